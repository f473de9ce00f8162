package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/dukerupert/heirloom/internal/database"
	"github.com/dukerupert/heirloom/internal/model"
	"github.com/dukerupert/heirloom/internal/store"
)

var (
	ErrNotConfigured  = errors.New("backup not configured: S3 credentials missing")
	ErrBackupNotFound = errors.New("backup not found")
	ErrNoPassphrase   = errors.New("passphrase is required")
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

func (c S3Config) complete() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// Config holds backup manager configuration.
type Config struct {
	S3 S3Config
	// ScheduleHour is the UTC hour for scheduled backups of families with a
	// cached passphrase. Negative disables the schedule.
	ScheduleHour  int
	RetentionDays int
}

// State represents the backup manager state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

// Status holds the current backup manager status.
type Status struct {
	State      State      `json:"state"`
	LastBackup *time.Time `json:"last_backup,omitempty"`
	Error      string     `json:"error,omitempty"`
	InProgress bool       `json:"in_progress"`
}

// Stores bundles the persistence the manager reads and writes.
type Stores struct {
	Members       *store.TreeMemberStore
	Relationships *store.RelationshipStore
	Backups       *store.BackupStore
}

// Manager writes encrypted family-tree snapshots to S3-compatible storage
// and restores them.
type Manager struct {
	mu     sync.RWMutex
	cfg    Config
	status Status
	client s3Client
	logger *slog.Logger

	db     *database.DB
	stores Stores

	// onRestore runs after a family's rows were replaced, while the family
	// lock is still held.
	onRestore  func(familyID string)
	lockFamily func(familyID string) (unlock func())

	passphrases map[string]string // familyID -> cached passphrase (memory only)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a backup manager. It is disabled until S3 is configured.
func NewManager(cfg Config, db *database.DB, stores Stores, logger *slog.Logger, onRestore func(familyID string)) *Manager {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	m := &Manager{
		cfg:         cfg,
		db:          db,
		stores:      stores,
		logger:      logger.With("component", "backup"),
		onRestore:   onRestore,
		passphrases: make(map[string]string),
		status:      Status{State: StateDisabled},
	}
	if cfg.S3.complete() {
		m.client = newS3Client(cfg.S3)
		m.status.State = StateIdle
	}
	return m
}

// SetFamilyLock makes Restore hold lock for the family while it replaces rows,
// so no tree write interleaves with the restore.
func (m *Manager) SetFamilyLock(lock func(familyID string) (unlock func())) {
	m.lockFamily = lock
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Enabled reports whether object storage is configured.
func (m *Manager) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client != nil
}

// Start begins the scheduled backup loop.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.status.State == StateDisabled || m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				m.checkSchedule(ctx, now.UTC())
			}
		}
	}()
}

// Stop gracefully stops the backup manager.
func (m *Manager) Stop() {
	m.mu.RLock()
	cancel := m.cancel
	done := m.done
	m.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Status returns the current backup status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	if s.LastBackup == nil {
		s.LastBackup = m.status.LastBackup
	}
	m.status = s
	m.mu.Unlock()
}

// CachePassphrase keeps a family's passphrase in memory for scheduled backups.
func (m *Manager) CachePassphrase(familyID, passphrase string) {
	m.mu.Lock()
	m.passphrases[familyID] = passphrase
	m.mu.Unlock()
}

// HasCachedPassphrase returns whether a passphrase is cached for the family.
func (m *Manager) HasCachedPassphrase(familyID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.passphrases[familyID]
	return ok
}

func (m *Manager) checkSchedule(ctx context.Context, now time.Time) {
	if m.cfg.ScheduleHour < 0 || now.Hour() != m.cfg.ScheduleHour || now.Minute() != 0 {
		return
	}

	m.mu.RLock()
	due := make(map[string]string, len(m.passphrases))
	for id, p := range m.passphrases {
		due[id] = p
	}
	m.mu.RUnlock()

	for familyID, passphrase := range due {
		if _, err := m.Run(ctx, familyID, passphrase); err != nil {
			m.logger.Error("scheduled backup failed", "family_id", familyID, "error", err)
		}
	}
	if err := m.CleanupAll(ctx); err != nil {
		m.logger.Error("scheduled cleanup failed", "error", err)
	}
}

func (m *Manager) clientAndBucket() (s3Client, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil {
		return nil, "", ErrNotConfigured
	}
	return m.client, m.cfg.S3.Bucket, nil
}

// Run snapshots the family's members and relationships, encrypts the JSON
// with passphrase and uploads it.
func (m *Manager) Run(ctx context.Context, familyID, passphrase string) (*model.Backup, error) {
	client, bucket, err := m.clientAndBucket()
	if err != nil {
		return nil, err
	}
	if passphrase == "" {
		return nil, ErrNoPassphrase
	}

	m.setStatus(Status{State: StateRunning, InProgress: true})

	now := time.Now().UTC()
	key := fmt.Sprintf("%s/family-tree-%s-%s.json.enc", familyID, now.Format("2006-01-02T150405Z"), uuid.NewString()[:8])
	record, err := m.stores.Backups.Create(ctx, familyID, key)
	if err != nil {
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return nil, fmt.Errorf("create backup record: %w", err)
	}

	fail := func(err error) (*model.Backup, error) {
		if uerr := m.stores.Backups.UpdateStatus(ctx, record.ID, model.BackupStatusFailed, err.Error()); uerr != nil {
			m.logger.Error("mark backup failed", "backup_id", record.ID, "error", uerr)
		}
		m.setStatus(Status{State: StateError, Error: err.Error()})
		m.logger.Error("backup failed", "family_id", familyID, "backup_id", record.ID, "error", err)
		return nil, err
	}

	members, badMembers, err := m.stores.Members.ListByFamily(ctx, familyID)
	if err != nil {
		return fail(fmt.Errorf("read members: %w", err))
	}
	rels, badRels, err := m.stores.Relationships.ListByFamily(ctx, familyID)
	if err != nil {
		return fail(fmt.Errorf("read relationships: %w", err))
	}
	if n := len(badMembers) + len(badRels); n > 0 {
		m.logger.Warn("backup skips quarantined rows", "family_id", familyID, "count", n)
	}

	snap := Snapshot{
		FamilyID:      familyID,
		TakenAt:       now,
		Members:       members,
		Relationships: rels,
	}
	if n := dropDangling(&snap); n > 0 {
		m.logger.Warn("backup skips relationships to quarantined members", "family_id", familyID, "count", n)
	}
	// a backup that could not be restored is not a backup
	if err := checkSnapshot(&snap); err != nil {
		return fail(err)
	}
	plain, err := encodeSnapshot(snap)
	if err != nil {
		return fail(err)
	}
	enc, err := Encrypt(plain, passphrase)
	if err != nil {
		return fail(fmt.Errorf("encrypt: %w", err))
	}

	if err := m.stores.Backups.UpdateStatus(ctx, record.ID, model.BackupStatusUploading, ""); err != nil {
		return fail(err)
	}
	if _, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(enc),
		ContentLength: aws.Int64(int64(len(enc))),
	}); err != nil {
		return fail(fmt.Errorf("upload to s3: %w", err))
	}

	if err := m.stores.Backups.UpdateCompleted(ctx, record.ID, int64(len(enc))); err != nil {
		return fail(err)
	}

	done := time.Now().UTC()
	m.setStatus(Status{State: StateIdle, LastBackup: &done})
	m.logger.Info("backup completed", "family_id", familyID, "backup_id", record.ID,
		"members", len(snap.Members), "relationships", len(snap.Relationships), "bytes", len(enc))

	return m.stores.Backups.GetByID(ctx, record.ID, familyID)
}

// Restore downloads a backup, decrypts and validates it, and replaces the
// family's members and relationships in one transaction.
func (m *Manager) Restore(ctx context.Context, backupID, familyID, passphrase string) (*Snapshot, error) {
	client, bucket, err := m.clientAndBucket()
	if err != nil {
		return nil, err
	}

	record, err := m.stores.Backups.GetByID(ctx, backupID, familyID)
	if err != nil {
		return nil, fmt.Errorf("get backup: %w", err)
	}
	if record == nil || record.Status != model.BackupStatusCompleted {
		return nil, ErrBackupNotFound
	}

	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(record.ObjectKey),
	})
	if err != nil {
		return nil, fmt.Errorf("download from s3: %w", err)
	}
	defer result.Body.Close()

	enc, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("read backup object: %w", err)
	}
	plain, err := Decrypt(enc, passphrase)
	if err != nil {
		return nil, err
	}
	snap, err := decodeSnapshot(plain, familyID)
	if err != nil {
		return nil, err
	}

	if m.lockFamily != nil {
		unlock := m.lockFamily(familyID)
		defer unlock()
	}
	if err := store.ReplaceFamilyTree(ctx, m.db, familyID, snap.Members, snap.Relationships); err != nil {
		return nil, fmt.Errorf("restore family tree: %w", err)
	}
	m.logger.Info("backup restored", "family_id", familyID, "backup_id", backupID,
		"members", len(snap.Members), "relationships", len(snap.Relationships))

	if m.onRestore != nil {
		m.onRestore(familyID)
	}
	return snap, nil
}

// Download streams an encrypted backup object.
func (m *Manager) Download(ctx context.Context, backupID, familyID string) (io.ReadCloser, int64, error) {
	client, bucket, err := m.clientAndBucket()
	if err != nil {
		return nil, 0, err
	}

	record, err := m.stores.Backups.GetByID(ctx, backupID, familyID)
	if err != nil {
		return nil, 0, fmt.Errorf("get backup: %w", err)
	}
	if record == nil {
		return nil, 0, ErrBackupNotFound
	}

	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(record.ObjectKey),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("download from s3: %w", err)
	}
	return result.Body, record.SizeBytes, nil
}

// Cleanup deletes the family's backups older than the retention period.
func (m *Manager) Cleanup(ctx context.Context, familyID string, retentionDays int) error {
	client, bucket, err := m.clientAndBucket()
	if err != nil {
		return nil
	}
	if retentionDays <= 0 {
		retentionDays = m.cfg.RetentionDays
	}

	before := time.Now().UTC().AddDate(0, 0, -retentionDays)
	keys, err := m.stores.Backups.DeleteOlderThan(ctx, familyID, before)
	if err != nil {
		return fmt.Errorf("delete old backups: %w", err)
	}

	for _, key := range keys {
		if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}); err != nil {
			m.logger.Warn("delete s3 object", "key", key, "error", err)
		}
	}
	return nil
}

// CleanupAll applies the configured retention to every family with backups.
func (m *Manager) CleanupAll(ctx context.Context) error {
	ids, err := m.stores.Backups.FamilyIDs(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, id := range ids {
		if err := m.Cleanup(ctx, id, m.cfg.RetentionDays); err != nil {
			errs = append(errs, fmt.Errorf("family %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
