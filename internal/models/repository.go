package models

import "time"

// Remote описывает удаленный индекс пакетов и его фильтры.
// UpdatedAt меняется при любом изменении конфигурации remote и служит
// ключом инвалидации кеша фильтров.
type Remote struct {
	UpdatedAt     time.Time      `json:"updated_at"`
	ID            string         `json:"id"`
	URL           string         `json:"url"`
	Policy        DownloadPolicy `json:"policy"`
	Filters       FilterSpec     `json:"filters"`
	IncludeYanked bool           `json:"include_yanked,omitempty"`
}

// Repository is a named, versioned content set.
type Repository struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
	RemoteID  string    `json:"remote_id,omitempty"`
}

// RepositoryVersion is an immutable snapshot of repository membership.
// Version 0 is created together with the repository and is empty.
type RepositoryVersion struct {
	CreatedAt    time.Time `json:"created_at"`
	ID           string    `json:"id"`
	RepositoryID string    `json:"repository_id"`
	Number       int       `json:"number"`
}

// SyncProgress is the serial watermark of the last successful sync for a
// repository/remote pair. It is reset to zero when the remote URL changes.
type SyncProgress struct {
	UpdatedAt    time.Time `json:"updated_at"`
	RepositoryID string    `json:"repository_id"`
	RemoteID     string    `json:"remote_id"`
	RemoteURL    string    `json:"remote_url"`
	LastSerial   int64     `json:"last_serial"`
}
