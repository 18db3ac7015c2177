package store

import "time"

// User is identified by email, carries a billing tier, and may override
// the account-wide quota defaults (nil means "use config.QuotaConfig
// default").
type User struct {
	ID                   string
	Email                string
	Tier                 string
	AttachmentBytesLimit *int64
	WorkspaceLimit       *int
	SiteLimit            *int
	CreatedAt            time.Time
}

// Device is a named, revocable authentication endpoint for one user.
type Device struct {
	ID         string
	UserID     string
	DeviceName string
	CreatedAt  time.Time
	LastSeenAt *time.Time
	RevokedAt  *time.Time
}

// Session is a bearer token bound to a user and device.
type Session struct {
	Token     string
	UserID    string
	DeviceID  string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// MagicLink is a single-use, time-limited login token.
type MagicLink struct {
	Token      string
	Email      string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}

// Workspace is one journal: a metadata CRDT doc plus a tree of entries,
// each entry's body its own CRDT doc.
type Workspace struct {
	ID                 string
	OwnerID            string
	Name               string
	RootPath           string
	LinkFormat         string // "relative" | "plain_canonical"
	AutoRenameToTitle  bool
	FilenameStyle      string
	SyncTitleToHeading bool
	CreatedAt          time.Time
}

// Blob is the metadata row for content-addressed bytes.
type Blob struct {
	Hash           string
	OwnerID        string
	Size           int64
	Mime           string
	RefCount       int
	CreatedAt      time.Time
	UnreferencedAt *time.Time
	DeletedAt      *time.Time
}

// AttachmentRef is one workspace→blob edge, mirrored from frontmatter.
type AttachmentRef struct {
	WorkspaceID string
	Path        string
	Hash        string
	Filename    string
	CreatedAt   time.Time
}

// UploadSession tracks one resumable multipart upload.
type UploadSession struct {
	ID           string
	WorkspaceID  string
	OwnerID      string
	Size         int64
	Mime         string
	Filename     string
	DeclaredHash string
	RemoteHandle string
	Status       string // "pending" | "completed" | "aborted"
	CreatedAt    time.Time
	CompletedAt  *time.Time
}

// UploadPart is one completed part of an UploadSession.
type UploadPart struct {
	UploadID  string
	PartNo    int
	ETag      string
	Size      int64
	CreatedAt time.Time
}

// ShareSession is a time-limited guest access code.
type ShareSession struct {
	Code        string
	WorkspaceID string
	ReadOnly    bool
	CreatedAt   time.Time
	ExpiresAt   time.Time
	EndedAt     *time.Time
}

// PublishedSite is a slug-addressed export artifact record.
type PublishedSite struct {
	Slug        string
	WorkspaceID string
	OwnerID     string
	CreatedAt   time.Time
	RevokedAt   *time.Time
}

// AudienceBuild is one partitioned static export of a published site,
// scoped to entries tagged for audience.
type AudienceBuild struct {
	ID       string
	Slug     string
	Audience string
	BuiltAt  time.Time
}

// AccessToken gates a published site's audience build behind a bearer
// token handed out to the intended readers.
type AccessToken struct {
	Token     string
	Slug      string
	Audience  string
	CreatedAt time.Time
	RevokedAt *time.Time
}
