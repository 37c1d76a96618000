package transfer

// FileSystem is the local filesystem as seen by downloads.
type FileSystem interface {
	Exists(path string) bool
	MkdirAll(dir string) error
	Remove(path string) error
}
