package backend

import (
	"bufio"
	"io"
	"os"
)

// maxSniff bounds how much of a file is read to find its first line.
const maxSniff = 512

// FirstLine returns the first line of a regular file, without the newline,
// reading at most a few hundred bytes. Directories yield an empty line.
// An error means the file could not be read.
func FirstLine(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if fi.IsDir() {
		return "", nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReader(io.LimitReader(f, maxSniff))
	line, err := r.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line, nil
}
