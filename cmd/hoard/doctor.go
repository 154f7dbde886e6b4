package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/hoardlabs/hoard/internal/lock"
	"github.com/hoardlabs/hoard/internal/store"
)

// Filesystem magic numbers for mounts where flock does not reliably
// provide mutual exclusion.
const (
	fsMagicNFS  = 0x6969
	fsMagicSMB  = 0x517B
	fsMagicCIFS = 0xFF534D42
	fsMagicFUSE = 0x65735546
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the database, lock files, and worker health",
	Args:  cobra.NoArgs,
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	dbPath := a.cfg.Storage.DBPath
	failed := false

	report := func(ok bool, name, detail string) {
		mark := "ok  "
		if !ok {
			mark = "FAIL"
			failed = true
		}
		fmt.Printf("%s %-18s %s\n", mark, name, detail)
	}
	warn := func(name, detail string) {
		fmt.Printf("warn %-18s %s\n", name, detail)
	}

	// Store openability runs schema init, so everything after sees a
	// fully migrated database.
	db, err := store.Open(dbPath, a.cfg.BusyTimeout())
	if err != nil {
		report(false, "store", err.Error())
		return fmt.Errorf("doctor found problems")
	}
	defer db.Close()
	report(true, "store", dbPath)

	var mode string
	if err := db.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		report(false, "journal mode", err.Error())
	} else {
		report(mode == "wal", "journal mode", mode)
	}

	checkFilesystem(filepath.Dir(dbPath), warn)

	wl := lock.NewWriteLock(dbPath, 2*time.Second)
	if ok, err := wl.Acquire(); err != nil {
		report(false, "write lock", err.Error())
	} else if !ok {
		warn("write lock", "held by another process (contended, not broken)")
	} else {
		wl.Release()
		report(true, "write lock", lock.WriteLockPath(dbPath))
	}

	sl := lock.NewServerLock(dbPath)
	if err := sl.AcquireOrFail(); err != nil {
		warn("server", "a server is running on this database")
	} else {
		sl.Release()
		report(true, "server lock", "free, no server running")
	}

	syl := lock.NewSyncLock(dbPath)
	if ok, err := syl.TryAcquire(); err != nil {
		report(false, "sync lock", err.Error())
	} else if !ok {
		warn("sync lock", "a sync is in flight")
	} else {
		syl.Release()
		report(true, "sync lock", lock.SyncLockPath(dbPath))
	}

	if lease, err := store.GetLease(db); err != nil {
		report(false, "worker lease", err.Error())
	} else if lease == nil {
		warn("worker lease", "no worker has ever run")
	} else if lease.ExpiresAt > time.Now().UnixMilli() {
		report(true, "worker lease", fmt.Sprintf("held by %s (%s pid %d)", lease.WorkerID, lease.Hostname, lease.PID))
	} else {
		warn("worker lease", fmt.Sprintf("lapsed, last holder %s", lease.WorkerID))
	}

	if n, err := store.PendingJobCount(db); err != nil {
		report(false, "job queue", err.Error())
	} else {
		report(true, "job queue", fmt.Sprintf("%d pending jobs", n))
	}

	if failed {
		return fmt.Errorf("doctor found problems")
	}
	return nil
}

// checkFilesystem warns when the database directory sits on a mount where
// flock is unreliable.
func checkFilesystem(dir string, warn func(name, detail string)) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		warn("filesystem", "statfs failed: "+err.Error())
		return
	}
	switch uint32(st.Type) {
	case fsMagicNFS, fsMagicSMB, fsMagicCIFS, fsMagicFUSE:
		warn("filesystem", "network or FUSE mount detected; advisory locks may not exclude other hosts")
	default:
		fmt.Printf("ok   %-18s local filesystem\n", "filesystem")
	}
}
