package conventions

import "path/filepath"

const (
	// DefaultDataDir is the default devup data directory name (relative to home).
	DefaultDataDir = ".devup"
	// DBFile is the session history database filename.
	DBFile = "devup.db"

	// DefaultManifestFile is the manifest looked up in the working directory.
	DefaultManifestFile = "devup.yaml"

	// Container naming.

	// ContainerPrefix is the prefix of every container launched by devup.
	ContainerPrefix = "devup"
	// LabelSession is the container label with the session ID.
	LabelSession = "dev.devup.session"
	// LabelTask is the container label with the task name.
	LabelTask = "dev.devup.task"
)

// DBPath returns the session history database path.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, DBFile)
}
