package domain

import "time"

// Project is the configuration snapshot a pipeline run builds from. The
// engine reads it, never writes it.
type Project struct {
	ID     string
	Name   string
	UserID string

	RepoURL      string
	Branch       string
	BuildCommand string
	// OutputDir overrides output detection when set, relative to the
	// frontend root.
	OutputDir string
	// FrontendDir points at the buildable subtree when the site does not
	// live at the repository root.
	FrontendDir string

	// EncryptedToken holds the AES-GCM sealed clone credential. It is
	// decrypted per run and never persisted in plaintext.
	EncryptedToken []byte

	// ENSName is the name whose contenthash is updated after upload.
	ENSName string

	CreatedAt time.Time
}
