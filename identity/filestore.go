// SPDX-License-Identifier: ice License 1.0

package identity

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// FileSecretStore keeps secrets as 0600 files under a single directory.
// It is the store the CLI wires in; embedders provide their own.
type FileSecretStore struct {
	Dir string
}

func (s *FileSecretStore) ReadSecret(_ context.Context, name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir, name))
	if os.IsNotExist(err) {
		return "", ErrSecretNotFound
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to read secret %q", name)
	}

	return string(data), nil
}

func (s *FileSecretStore) WriteSecret(_ context.Context, name, value string) error {
	if err := os.MkdirAll(s.Dir, 0o700); err != nil {
		return errors.Wrapf(err, "failed to create secret dir %q", s.Dir)
	}

	return errors.Wrapf(os.WriteFile(filepath.Join(s.Dir, name), []byte(value), 0o600), "failed to write secret %q", name)
}
