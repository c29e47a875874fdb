package fs

import (
	"io/fs"
	"os"

	"go.uber.org/fx"
)

//go:generate mockgen -source=fs.go -destination=fsmock/fs_mock.go -package=fsmock

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// AgentFS wraps the filesystem operations used by agentd's tools so they can
// be faked in tests.
type AgentFS interface {
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data string) error
	ReadDir(name string) ([]fs.DirEntry, error)
	FileExists(path string) (bool, error)
	DirExists(path string) (bool, error)
	MkdirAll(path string) error
	Remove(name string) error
}

type fsImpl struct{}

// New creates a new AgentFS.
func New() AgentFS {
	return fsImpl{}
}

// ReadFile reads a whole file.
func (fsImpl) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}

// WriteFile writes data to a file, creating it if needed.
func (fsImpl) WriteFile(name string, data string) error {
	return os.WriteFile(name, []byte(data), 0644)
}

// ReadDir reads all the items in a directory (non-recursive).
func (fsImpl) ReadDir(name string) ([]fs.DirEntry, error) {
	return os.ReadDir(name)
}

func (fsImpl) FileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

func (fsImpl) DirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

// MkdirAll creates a directory and all its parents.
func (fsImpl) MkdirAll(path string) error {
	return os.MkdirAll(path, os.ModePerm)
}

func (fsImpl) Remove(name string) error {
	return os.Remove(name)
}
