package captcha

import (
	"fmt"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
)

// Archive keeps the most recent CAPTCHA image at a fixed path so an operator
// can inspect it offline. Each Save overwrites the previous image.
type Archive struct {
	fs   afero.Fs
	path string
}

// NewArchive returns an Archive writing to path on fs. A leading "~" in path
// is expanded to the user's home directory. A nil fs means the OS filesystem.
func NewArchive(fs afero.Fs, path string) (*Archive, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("captcha: expanding archive path %q: %w", path, err)
	}
	return &Archive{fs: fs, path: filepath.Clean(expanded)}, nil
}

// Path is where Save writes.
func (a *Archive) Path() string { return a.path }

// Save writes image to the archive path, creating parent directories.
func (a *Archive) Save(image []byte) error {
	if dir := filepath.Dir(a.path); dir != "." {
		if err := a.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("captcha: creating %s: %w", dir, err)
		}
	}
	if err := afero.WriteFile(a.fs, a.path, image, 0o600); err != nil {
		return fmt.Errorf("captcha: writing %s: %w", a.path, err)
	}
	return nil
}

