package ras

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	// go-mssqldb is required for the sqlserver driver but isn't used in code
	_ "github.com/microsoft/go-mssqldb"
)

// sessionsQuery reads live sessions from the server's dynamic management
// views. Read-only; the engine never modifies the monitored database.
const sessionsQuery = `
SELECT
    CAST(s.session_id AS VARCHAR(16)) AS session_id,
    s.status AS status,
    s.cpu_time AS cpu_time_ms,
    s.memory_usage * 8192 AS memory_bytes,
    s.login_time AS started_at,
    ISNULL(s.login_name, '') AS login_name,
    ISNULL(s.program_name, '') AS program_name,
    CASE WHEN r.blocking_session_id IS NOT NULL AND r.blocking_session_id <> 0 THEN 1 ELSE 0 END AS blocked
FROM sys.dm_exec_sessions s
LEFT JOIN sys.dm_exec_requests r ON r.session_id = s.session_id
WHERE s.is_user_process = 1`

const serverInfoQuery = `SELECT @@SERVERNAME AS server_name, CAST(SERVERPROPERTY('ProductVersion') AS VARCHAR(32)) AS product_version`

// sessionRow is the scan target for sessionsQuery.
type sessionRow struct {
	SessionID   string    `db:"session_id"`
	Status      string    `db:"status"`
	CPUTimeMS   int64     `db:"cpu_time_ms"`
	MemoryBytes int64     `db:"memory_bytes"`
	StartedAt   time.Time `db:"started_at"`
	LoginName   string    `db:"login_name"`
	ProgramName string    `db:"program_name"`
	Blocked     int       `db:"blocked"`
}

type serverInfoRow struct {
	ServerName     string `db:"server_name"`
	ProductVersion string `db:"product_version"`
}

// SQLSessionSource retrieves sessions from a SQL server's system views.
type SQLSessionSource struct {
	DB        *sqlx.DB
	ClusterID string
}

var _ SessionSource = (*SQLSessionSource)(nil)

// SQLConnectionURL builds a sqlserver connection string from host, port
// and credentials. All parts should be validated before calling this.
func SQLConnectionURL(host string, port int, username, password string, timeout time.Duration) string {
	query := url.Values{}
	query.Add("dial timeout", fmt.Sprintf("%d", int(timeout.Seconds())))
	query.Add("connection timeout", fmt.Sprintf("%d", int(timeout.Seconds())))

	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(username, password),
		Host:     fmt.Sprintf("%s:%d", host, port),
		RawQuery: query.Encode(),
	}
	return u.String()
}

// NewSQLSessionSource connects to the server and returns a source bound
// to that connection.
func NewSQLSessionSource(connectionURL, clusterID string) (*SQLSessionSource, error) {
	db, err := sqlx.Connect("sqlserver", connectionURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClusterUnreachable, err)
	}
	return &SQLSessionSource{DB: db, ClusterID: clusterID}, nil
}

// Close closes the underlying connection.
func (s *SQLSessionSource) Close() error {
	return s.DB.Close()
}

// ClusterInfo reads server identity from server properties.
func (s *SQLSessionSource) ClusterInfo(ctx context.Context) (ClusterInfo, error) {
	var row serverInfoRow
	if err := s.DB.GetContext(ctx, &row, serverInfoQuery); err != nil {
		return ClusterInfo{}, fmt.Errorf("%w: %v", ErrClusterUnreachable, err)
	}
	return ClusterInfo{
		ClusterID:    s.ClusterID,
		Name:         row.ServerName,
		AgentVersion: row.ProductVersion,
	}, nil
}

// Sessions loads the live session list. The SQL source reports no
// host-level cpu/memory figures; those stay zero and the resource
// tracker works from session counts alone.
func (s *SQLSessionSource) Sessions(ctx context.Context) ([]Session, float64, float64, error) {
	var rows []sessionRow
	if err := s.DB.SelectContext(ctx, &rows, sessionsQuery); err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", ErrClusterUnreachable, err)
	}

	sessions := make([]Session, 0, len(rows))
	for _, row := range rows {
		sessions = append(sessions, Session{
			SessionID:   row.SessionID,
			State:       sessionStateFromStatus(row.Status, row.Blocked),
			CPUTimeMS:   row.CPUTimeMS,
			MemoryBytes: row.MemoryBytes,
			StartedAt:   row.StartedAt,
			User:        row.LoginName,
			Application: row.ProgramName,
		})
	}
	return sessions, 0, 0, nil
}

func sessionStateFromStatus(status string, blocked int) SessionState {
	if blocked != 0 {
		return SessionBlocked
	}
	switch status {
	case "running", "runnable", "active":
		return SessionActive
	case "sleeping", "dormant":
		return SessionSleeping
	default:
		return SessionSleeping
	}
}
