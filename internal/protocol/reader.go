package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Reader reads framed commands from a line stream.
type Reader struct {
	br *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	if br, ok := r.(*bufio.Reader); ok {
		return &Reader{br: br}
	}
	return &Reader{br: bufio.NewReaderSize(r, 64*1024)}
}

// ReadCommand reads one header and exactly the declared number of body lines.
// A stream that ends before the body is complete is a violation.
func (r *Reader) ReadCommand(allowed ...Keyword) (Command, error) {
	line, err := r.readLine()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Command{}, fmt.Errorf("%w: stream closed before header", ErrViolation)
		}
		return Command{}, err
	}
	key, n, err := ParseHeader(line, allowed...)
	if err != nil {
		return Command{}, err
	}
	cmd := Command{Key: key, Lines: make([]string, 0, n)}
	for i := 0; i < n; i++ {
		l, err := r.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Command{}, fmt.Errorf("%w: %s declared %d lines, got %d", ErrViolation, key, n, i)
			}
			return Command{}, err
		}
		cmd.Lines = append(cmd.Lines, l)
	}
	return cmd, nil
}

// readLine returns one line without its terminator. A final unterminated line
// is not a line.
func (r *Reader) readLine() (string, error) {
	s, err := r.br.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		return "", err
	}
	return strings.TrimSuffix(strings.TrimSuffix(s, "\n"), "\r"), nil
}

// Write formats cmd onto w.
func Write(w io.Writer, cmd Command) error {
	_, err := io.WriteString(w, Format(cmd))
	return err
}
