package identity

import "time"

// Direction is the flow of a Transfer Record.
type Direction string

const (
	// DirectionUpload marks bytes written by the client (SFTP write).
	DirectionUpload Direction = "upload"
	// DirectionDownload marks bytes read by the client (SFTP read).
	DirectionDownload Direction = "download"
)

// Connection is the persisted audit record described in spec.md §3
// ("Connection Record"). It is created once, at the moment a session enters
// Serving, and finalized exactly once when the session ends.
type Connection struct {
	ID              string     `gorm:"primaryKey;size:36" json:"id"`
	UserID          string     `gorm:"not null;index:idx_connections_user_active,priority:1;size:36" json:"user_id"`
	Username        string     `gorm:"not null;size:255" json:"username"`
	ClientEndpoint  string     `gorm:"size:255" json:"client_endpoint"`
	RemoteIP        string     `gorm:"size:64" json:"remote_ip"`
	StartedAt       time.Time  `gorm:"not null" json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	Active          bool       `gorm:"not null;default:true;index:idx_connections_user_active,priority:2" json:"active"`
	BytesUploaded   int64      `gorm:"not null;default:0" json:"bytes_uploaded"`
	BytesDownloaded int64      `gorm:"not null;default:0" json:"bytes_downloaded"`
}

// TableName pins the table name for Connection.
func (Connection) TableName() string { return "connections" }

// Transfer is the persisted audit record described in spec.md §3 ("Transfer
// Record"). Size is always strictly positive — zero-length reads/writes
// never produce a Transfer.
type Transfer struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ConnectionID string    `gorm:"not null;index:idx_transfers_conn_ts,priority:1;size:36" json:"connection_id"`
	Username     string    `gorm:"not null;size:255" json:"username"`
	Path         string    `gorm:"not null;size:2048" json:"path"`
	Direction    string    `gorm:"not null;size:16" json:"direction"`
	Size         int64     `gorm:"not null" json:"size"`
	Timestamp    time.Time `gorm:"not null;index:idx_transfers_conn_ts,priority:2" json:"timestamp"`
}

// TableName pins the table name for Transfer.
func (Transfer) TableName() string { return "transfers" }
