package persistence

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Command is a decoded RESP command.
type Command struct {
	// Name is the command name, e.g. "SET", "DEL".
	Name string
	// Args contains the command arguments. Byte slices keep the codec
	// binary-safe.
	Args [][]byte
}

// FormatCommand encodes a command name and its arguments as a RESP array of
// bulk strings. nil arguments are written as RESP null bulk strings.
func FormatCommand(name string, args ...[]byte) []byte {
	var b bytes.Buffer

	b.WriteString("*")
	b.WriteString(strconv.Itoa(1 + len(args)))
	b.WriteString("\r\n")
	writeBulk(&b, []byte(name))

	for _, arg := range args {
		if arg == nil {
			b.WriteString("$-1\r\n")
			continue
		}
		writeBulk(&b, arg)
	}
	return b.Bytes()
}

func writeBulk(b *bytes.Buffer, data []byte) {
	b.WriteString("$")
	b.WriteString(strconv.Itoa(len(data)))
	b.WriteString("\r\n")
	b.Write(data)
	b.WriteString("\r\n")
}

// ParseCommand reads one RESP command from reader. It returns io.EOF when the
// reader is exhausted before a command starts.
func ParseCommand(reader *bufio.Reader) (*Command, error) {
	line, err := reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && line == "" {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read command header: %w", err)
	}

	line = strings.TrimSpace(line)
	if len(line) == 0 || line[0] != '*' {
		return nil, fmt.Errorf("invalid command format, expected '*'")
	}

	numArgs, err := strconv.Atoi(line[1:])
	if err != nil || numArgs <= 0 {
		return nil, fmt.Errorf("invalid number of arguments")
	}

	args := make([][]byte, numArgs)
	for i := 0; i < numArgs; i++ {
		line, err = reader.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("failed to read argument header: %w", err)
		}
		line = strings.TrimSpace(line)
		if len(line) == 0 || line[0] != '$' {
			return nil, fmt.Errorf("invalid argument format, expected '$'")
		}

		lenArg, err := strconv.Atoi(line[1:])
		if err != nil || lenArg < -1 {
			return nil, fmt.Errorf("invalid argument length")
		}
		if lenArg == -1 {
			args[i] = nil
			continue
		}

		argData := make([]byte, lenArg+2)
		if _, err := io.ReadFull(reader, argData); err != nil {
			return nil, fmt.Errorf("failed to read argument: %w", err)
		}
		if argData[lenArg] != '\r' || argData[lenArg+1] != '\n' {
			return nil, fmt.Errorf("argument not terminated by CRLF")
		}
		args[i] = argData[:lenArg]
	}

	return &Command{
		Name: strings.ToUpper(string(args[0])),
		Args: args[1:],
	}, nil
}

// ParseCommands decodes every command contained in payload.
func ParseCommands(payload []byte) ([]*Command, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	var cmds []*Command
	for {
		cmd, err := ParseCommand(reader)
		if err == io.EOF {
			return cmds, nil
		}
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
}
