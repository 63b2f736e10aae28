package model

import "time"

// AuditEntry is one hash-chained, append-only record of a security-relevant
// decision. See internal/audit for the canonical hashing and append protocol.
type AuditEntry struct {
	ChainIndex  int64
	PrevHash    string // empty for ChainIndex == 1
	EntryHash   string
	CreatedAt   time.Time
	EventID     string
	Action      string
	Resource    string
	ResourceID  *string
	ActorKeyID  *string
	ActorRole   *string
	Status      *string
	Reason      *string
}

// BackupMetadata tracks one submitted backup through its lifecycle.
type BackupMetadata struct {
	BackupID            string
	KeyVersion          *string
	Classification      Classification
	SourceSystem        string
	Description         *string
	Status              BackupStatus
	StoragePath         *string
	ChecksumPlaintext   *string
	ChecksumCiphertext  *string
	Nonce               *string // hex
	OriginalSize        *int64
	EncryptedSize       *int64
	CreatedBy           *string
	CreatedAt           time.Time
	IrreversibleReason  *string
	ShreddedAt          *time.Time
}

// KeyVersion is one generation of data-encryption key material.
type KeyVersion struct {
	VersionID           string
	IsActive            bool
	IsDestroyed         bool
	RotatedFromVersion  *string
	CreatedByKeyID      *string
	RotationReason      *string
	CreatedAt           time.Time
	ActivatedAt         *time.Time
	DestroyedAt         *time.Time
}

// IncidentState is one append-only entry in the incident level history.
type IncidentState struct {
	Level          IncidentLevel
	ChangedByKeyID *string
	Reason         *string
	ChangedAt      time.Time
}

// Alert is a deduplicated threshold-crossing notification.
type Alert struct {
	AlertID         string
	RuleID          string
	Severity        AlertSeverity
	Status          AlertStatus
	SourceEvent     string
	ActorKeyID      *string
	RelatedBackupID *string
	Reason          string
	MetadataJSON    *string
	DedupeKey       string
	CreatedAt       time.Time
	UpdatedAt       *time.Time
}

// ApiKey is the persisted record backing a Principal's credential.
type ApiKey struct {
	KeyID       string
	KeyHash     string // sha512(raw key), hex
	KeyPrefix   string // first 8 chars of raw key
	Role        Role
	Department  string
	IsActive    bool
	AllowedIPs  []string
	CreatedAt   time.Time
	ExpiresAt   *time.Time
	LastUsedAt  *time.Time
	LastUsedIP  *string
}

// Principal is the authenticated caller resolved from a presented API key.
type Principal struct {
	KeyID      string
	Role       Role
	Department string
}

// PolicyRecord is an admin-editable override of the default role/classification tables.
type PolicyRecord struct {
	PolicyID                string
	RolePermissions         map[Role][]string
	ClassificationRoles     map[Classification][]Role
	CreatedAt               time.Time
	UpdatedAt               *time.Time
}

// RestoreAccessTokenRecord binds a short-TTL bearer token to a completed restore.
type RestoreAccessTokenRecord struct {
	Token      string
	BackupID   string
	ActorKeyID *string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}
