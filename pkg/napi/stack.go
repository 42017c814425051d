package napi

import (
	"errors"
	"strings"

	"github.com/marmos91/nxfs/pkg/backend"
)

// entry pairs an open backend file with the open-mode flags of the call
// that opened it.
type entry struct {
	file   backend.File
	driver backend.Driver

	// strip trims rank-1 character data on read.
	strip bool

	// checkNames validates names before creating entities.
	checkNames bool
}

func (e *entry) family() string {
	return string(e.driver.Family())
}

// frame is one file of a handle stack.
type frame struct {
	entry    *entry
	filename string

	// path holds the names opened so far in this file.
	path []string

	// closeID is the entity whose close pops this frame. Zero on the
	// base frame and while a mount is still being resolved.
	closeID backend.Link

	// mountID is the registry record of a mounted frame.
	mountID string
}

// fileStack holds the chain of files a handle traverses. The top frame
// receives every call.
type fileStack struct {
	frames []*frame
}

var errEmptyStack = errors.New("handle stack is empty")

func (s *fileStack) push(e *entry, filename string) {
	s.frames = append(s.frames, &frame{entry: e, filename: filename})
}

// pop removes the top frame and returns it. Closing its file is up to the
// caller.
func (s *fileStack) pop() *frame {
	if len(s.frames) == 0 {
		return nil
	}
	f := s.frames[len(s.frames)-1]
	s.frames[len(s.frames)-1] = nil
	s.frames = s.frames[:len(s.frames)-1]
	return f
}

func (s *fileStack) top() *frame {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

func (s *fileStack) peek() *entry {
	if f := s.top(); f != nil {
		return f.entry
	}
	return nil
}

// depth is the number of frames beyond the base file: 0 for a plain
// file, -1 once every frame is gone.
func (s *fileStack) depth() int {
	return len(s.frames) - 1
}

func (s *fileStack) setCloseID(id backend.Link) {
	if f := s.top(); f != nil {
		f.closeID = id
	}
}

func (s *fileStack) peekID() backend.Link {
	if f := s.top(); f != nil {
		return f.closeID
	}
	return backend.Link{}
}

func (s *fileStack) pushPath(name string) {
	if f := s.top(); f != nil {
		f.path = append(f.path, name)
	}
}

func (s *fileStack) popPath() {
	if f := s.top(); f != nil && len(f.path) > 0 {
		f.path = f.path[:len(f.path)-1]
	}
}

// buildPath joins the open path of the top frame.
func (s *fileStack) buildPath() (string, error) {
	f := s.top()
	if f == nil {
		return "", errEmptyStack
	}
	return "/" + strings.Join(f.path, "/"), nil
}
