package preprocess

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

// Job statuses
const (
	StatusDone   = "done"
	StatusFailed = "failed"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// ScanJob is the outcome of the most recent preprocessing run of one scan
type ScanJob struct {
	BaseModel
	ScanID     string      `json:"scanID"`
	Status     string      `json:"status"`
	Frames     int         `json:"frames"` // Number of frames projected
	Error      string      `json:"error"`
	StartedAt  dbh.IntTime `json:"startedAt"`
	FinishedAt dbh.IntTime `json:"finishedAt"`
}

func (ScanJob) TableName() string {
	return "scan_job"
}

func (j *ScanJob) Duration() time.Duration {
	return j.FinishedAt.Get().Sub(j.StartedAt.Get())
}

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE scan_job(
			id INTEGER PRIMARY KEY,
			scan_id TEXT NOT NULL,
			status TEXT NOT NULL,
			frames INT NOT NULL,
			error TEXT,
			started_at INT NOT NULL,
			finished_at INT NOT NULL
		);
		CREATE UNIQUE INDEX idx_scan_job_scan_id ON scan_job(scan_id);
	`))

	return migs
}

// Ledger records which scans have been preprocessed, so that an interrupted
// run can be resumed. It is safe for concurrent use.
type Ledger struct {
	log  logs.Log
	db   *gorm.DB
	lock sync.Mutex // SQLite allows only one writer
}

// OpenLedger opens or creates the ledger database
func OpenLedger(log logs.Log, filename string) (*Ledger, error) {
	db, err := dbh.OpenDB(log, dbh.MakeSqliteConfig(filename), Migrations(log), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open preprocessing ledger %v: %w", filename, err)
	}
	return &Ledger{
		log: log,
		db:  db,
	}, nil
}

func (l *Ledger) Close() {
	if sqlDB, err := l.db.DB(); err == nil {
		sqlDB.Close()
	}
}

// Job returns the ledger entry of a scan, or nil if the scan has never been processed
func (l *Ledger) Job(scanID string) (*ScanJob, error) {
	job := ScanJob{}
	err := l.db.Where("scan_id = ?", scanID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return &job, nil
}

// IsDone returns true if the scan was processed successfully
func (l *Ledger) IsDone(scanID string) (bool, error) {
	job, err := l.Job(scanID)
	if err != nil {
		return false, err
	}
	return job != nil && job.Status == StatusDone, nil
}

// Record replaces the ledger entry of job.ScanID
func (l *Ledger) Record(job *ScanJob) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("scan_id = ?", job.ScanID).Delete(&ScanJob{}).Error; err != nil {
			return err
		}
		job.ID = 0
		return tx.Create(job).Error
	})
}

// Jobs returns every entry, ordered by scan id
func (l *Ledger) Jobs() ([]ScanJob, error) {
	jobs := []ScanJob{}
	err := l.db.Order("scan_id").Find(&jobs).Error
	return jobs, err
}
