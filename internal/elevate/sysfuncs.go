package elevate

import (
	"fmt"
	"io"
	"os"
)

// Filesystem and environment collaborators. Tests swap these out to avoid
// touching the real temp directory or depending on the host's front-ends.
var (
	statFunc      = os.Stat
	mkdirFunc     = os.Mkdir
	mkdirAllFunc  = os.MkdirAll
	removeAllFunc = os.RemoveAll
	readFileFunc  = os.ReadFile
	writeFileFunc = os.WriteFile
	copyFileFunc  = copyFile
	tempDirFunc   = os.TempDir
	userNameFunc  = func() string { return os.Getenv("USER") }
)

// copyFile copies src to dst, keeping the source permission bits.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
