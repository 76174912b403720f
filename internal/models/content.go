package models

import "time"

// DownloadPolicy определяет, когда скачиваются байты артефакта.
type DownloadPolicy string

const (
	// PolicyImmediate - скачать и проверить во время sync.
	PolicyImmediate DownloadPolicy = "immediate"
	// PolicyOnDemand - сохранить ссылку, скачать при первом запросе и оставить в хранилище.
	PolicyOnDemand DownloadPolicy = "on_demand"
	// PolicyStreamed - сохранить ссылку, отдавать поток без сохранения в хранилище.
	PolicyStreamed DownloadPolicy = "streamed"
)

// Deferred reports whether artifacts under this policy are materialized lazily.
func (p DownloadPolicy) Deferred() bool {
	return p != PolicyImmediate
}

// Artifact представляет байты файла дистрибутива. Для deferred артефакта
// хранятся только URL и заявленные checksums, Stored = false.
// Streamed артефакт отдается напрямую из источника и не сохраняется.
type Artifact struct {
	CreatedAt time.Time         `json:"created_at"`
	Digests   map[string]string `json:"digests"`
	ID        string            `json:"id"`
	Sha256    string            `json:"sha256"`
	URL       string            `json:"url,omitempty"`
	Size      int64             `json:"size"`
	Stored    bool              `json:"stored"`
	Streamed  bool              `json:"streamed,omitempty"`
}

// Content is a globally deduplicated content row keyed by the sha256 of its
// artifact. Repositories reference content through versions.
type Content struct {
	CreatedAt      time.Time `json:"created_at"`
	ID             string    `json:"id"`
	Sha256         string    `json:"sha256"`
	Filename       string    `json:"filename"`
	Name           string    `json:"name"`
	Version        string    `json:"version"`
	PackageType    string    `json:"packagetype"`
	RequiresPython string    `json:"requires_python,omitempty"`
	Platform       string    `json:"platform,omitempty"`
	ArtifactID     string    `json:"artifact_id"`
}

// PendingArtifact - артефакт, который еще предстоит создать: источник и
// ожидаемые checksums.
type PendingArtifact struct {
	Digests  map[string]string
	URL      string
	Deferred bool
	Streamed bool
}

// DeclarativeContent is the (content metadata, pending artifact) pair built
// by staging. It is consumed exactly once by the commit stage.
type DeclarativeContent struct {
	Artifact PendingArtifact
	Content  Content
}
