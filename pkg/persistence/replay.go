package persistence

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// ApplyFunc receives the commands of one frame. Commands of a batch frame are
// delivered together.
type ApplyFunc func(cmds []*Command) error

// Replay reads the AOF at path frame by frame and hands every decoded frame to
// apply. It returns the offset just past the last valid frame.
//
// A truncated or corrupt tail (power loss during a write) stops the replay
// without error; the caller is expected to truncate the file to the returned
// offset before appending. A missing file replays nothing.
func Replay(path string, apply ApplyFunc) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to open AOF for replay: %w", err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	var offset int64
	frames := 0

	for {
		_, payload, n, err := ReadFrame(reader)
		if err == io.EOF {
			break
		}
		if err != nil {
			slog.Warn("AOF replay stopped at damaged frame",
				"path", path,
				"offset", offset,
				"frames", frames,
				"error", err,
			)
			break
		}

		cmds, err := ParseCommands(payload)
		if err != nil {
			slog.Warn("AOF replay stopped at undecodable frame",
				"path", path,
				"offset", offset,
				"error", err,
			)
			break
		}
		if err := apply(cmds); err != nil {
			return offset, fmt.Errorf("failed to apply AOF frame at offset %d: %w", offset, err)
		}

		offset += int64(n)
		frames++
	}

	slog.Debug("AOF replay complete", "path", path, "frames", frames, "bytes", offset)
	return offset, nil
}
