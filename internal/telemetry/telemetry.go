// Package telemetry writes playback and verification records to InfluxDB,
// or to a gzipped line-protocol backup file when InfluxDB is unreachable.
package telemetry

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"

	"github.com/eternallink/arlink/internal/config"
)

// Measurement names.
const (
	MeasurementPlayback = "ar_playback"
	MeasurementVerify   = "ar_verify"
)

// RetentionDays is applied to a bucket created on first connect.
const RetentionDays = 30

// ErrDisabled is returned by Connect when the sink is turned off.
var ErrDisabled = errors.New("influx telemetry disabled")

// Manager handles the InfluxDB connection and writes.
type Manager struct {
	Client       influxdb2.Client
	Writer       influxdb2_api.WriteAPI
	BackupWriter *gzip.Writer
	IsValid      bool
	Logger       zerolog.Logger
	BackupPath   string

	cfg        config.InfluxConfig
	mu         sync.Mutex
	backupFile *os.File
}

// NewManager creates a new InfluxDB manager. backupPath may be empty, in
// which case points are dropped while InfluxDB is down.
func NewManager(cfg config.InfluxConfig, log zerolog.Logger, backupPath string) *Manager {
	return &Manager{
		cfg:        cfg,
		Logger:     log,
		BackupPath: backupPath,
	}
}

// Connect pings InfluxDB, ensures org and bucket exist and opens the
// write API. If the ping fails it switches to the backup file.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.cfg.Enabled {
		return ErrDisabled
	}

	m.Client = influxdb2.NewClientWithOptions(
		m.cfg.URL,
		m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000),
	)

	running, err := m.Client.Ping(ctx)
	if err != nil || !running {
		m.IsValid = false
		m.Logger.Warn().Err(err).Str("url", m.cfg.URL).Msg("InfluxDB unreachable, using backup writer")
		return m.openBackup()
	}

	if err := m.setupOrganizationAndBucket(ctx); err != nil {
		return err
	}
	m.createWriter()
	m.IsValid = true
	m.Logger.Info().Str("bucket", m.cfg.Bucket).Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) openBackup() error {
	if m.BackupPath == "" || m.BackupWriter != nil {
		return nil
	}
	file, err := os.OpenFile(m.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	m.backupFile = file
	m.BackupWriter = gzip.NewWriter(file)
	m.Logger.Info().Str("backupPath", m.BackupPath).Msg("Writing telemetry to backup file")
	return nil
}

func (m *Manager) setupOrganizationAndBucket(ctx context.Context) error {
	orgs := m.Client.OrganizationsAPI()
	org, err := orgs.FindOrganizationByName(ctx, m.cfg.Org)
	if err != nil {
		m.Logger.Info().Str("org", m.cfg.Org).Msg("Organization not found, creating")
		org, err = orgs.CreateOrganizationWithName(ctx, m.cfg.Org)
		if err != nil {
			m.Logger.Error().Err(err).Str("org", m.cfg.Org).Msg("Error creating organization")
			return err
		}
	}

	buckets := m.Client.BucketsAPI()
	if _, err := buckets.FindBucketByName(ctx, m.cfg.Bucket); err == nil {
		return nil
	}
	m.Logger.Info().Str("bucket", m.cfg.Bucket).Msg("Bucket not found, creating")
	rule := domain.RetentionRuleTypeExpire
	_, err = buckets.CreateBucketWithName(ctx, org, m.cfg.Bucket, domain.RetentionRule{
		Type:         &rule,
		EverySeconds: 60 * 60 * 24 * RetentionDays,
	})
	if err != nil {
		m.Logger.Error().Err(err).Str("bucket", m.cfg.Bucket).Msg("Error creating bucket")
		return err
	}
	return nil
}

func (m *Manager) createWriter() {
	m.Writer = m.Client.WriteAPI(m.cfg.Org, m.cfg.Bucket)
	errorsCh := m.Writer.Errors()
	go func() {
		for writeErr := range errorsCh {
			m.Logger.Error().Err(writeErr).Str("bucket", m.cfg.Bucket).Msg("Error sending data to InfluxDB")
		}
	}()
}

// WritePoint writes a point to InfluxDB or the backup file.
func (m *Manager) WritePoint(point *influxdb2_write.Point) error {
	if m.IsValid {
		m.Writer.WritePoint(point)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BackupWriter == nil {
		return errors.New("influxDB client not initialized and backup writer not available")
	}
	line := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := m.BackupWriter.Write([]byte(strings.TrimRight(line, "\n") + "\n")); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// WritePlayback records a started playback.
func (m *Manager) WritePlayback(_ context.Context, messageID int64, mode string, latency time.Duration, degraded bool) error {
	return m.WritePoint(PlaybackPoint(messageID, mode, latency, degraded, time.Now()))
}

// WriteVerify records the outcome of a verification session.
func (m *Manager) WriteVerify(_ context.Context, messageID int64, gesture, outcome string, elapsed time.Duration) error {
	return m.WritePoint(VerifyPoint(messageID, gesture, outcome, elapsed, time.Now()))
}

// PlaybackPoint builds an ar_playback point.
func PlaybackPoint(messageID int64, mode string, latency time.Duration, degraded bool, at time.Time) *influxdb2_write.Point {
	return influxdb2.NewPoint(
		MeasurementPlayback,
		map[string]string{"mode": mode, "degraded": strconv.FormatBool(degraded)},
		map[string]any{"message_id": messageID, "latency_ms": latency.Milliseconds()},
		at,
	)
}

// VerifyPoint builds an ar_verify point.
func VerifyPoint(messageID int64, gesture, outcome string, elapsed time.Duration, at time.Time) *influxdb2_write.Point {
	return influxdb2.NewPoint(
		MeasurementVerify,
		map[string]string{"gesture": gesture, "outcome": outcome},
		map[string]any{"message_id": messageID, "elapsed_ms": elapsed.Milliseconds()},
		at,
	)
}

// Close flushes pending writes and releases the client and backup file.
func (m *Manager) Close() error {
	if m.Writer != nil {
		m.Writer.Flush()
	}
	if m.Client != nil {
		m.Client.Close()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	if m.BackupWriter != nil {
		errs = append(errs, m.BackupWriter.Close())
		m.BackupWriter = nil
	}
	if m.backupFile != nil {
		errs = append(errs, m.backupFile.Close())
		m.backupFile = nil
	}
	return errors.Join(errs...)
}
