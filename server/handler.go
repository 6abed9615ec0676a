package server

import (
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/sftp"

	"github.com/umputun/sftpcloud/internal/pathjail"
	"github.com/umputun/sftpcloud/internal/telemetry"
)

// operationHandler is the SFTP Operation Handler (spec.md §4.5): one
// instance per active SFTP channel, composing the Path Jail and the
// Metered File Handle over the session's resolved home directory. It
// implements the four sftp.Handlers interfaces, the way
// server/sftp.go's jailedFilesystem did for its single, read-only root.
type operationHandler struct {
	home     string
	writable bool // false once the session has been demoted (spec.md §7)
	counters *telemetry.Counters
	log      *telemetry.Log
}

func newOperationHandler(home string, counters *telemetry.Counters, log *telemetry.Log) *operationHandler {
	return &operationHandler{home: home, writable: true, counters: counters, log: log}
}

// demote puts the handler into read-only-with-no-telemetry mode, used
// when the Connection Record could not be inserted (spec.md §7).
func (h *operationHandler) demote() {
	h.writable = false
	h.counters = nil
	h.log = nil
}

func (h *operationHandler) resolve(virtualPath string) (string, error) {
	hostPath, err := pathjail.Resolve(virtualPath, h.home)
	if err != nil {
		if errors.Is(err, pathjail.ErrPathEscape) {
			log.Printf("[WARN] SFTP: path escape attempt for %s", virtualPath)
			return "", sftp.ErrSSHFxPermissionDenied
		}
		return "", sftp.ErrSSHFxFailure
	}
	return hostPath, nil
}

func mapOSError(err error) error {
	switch {
	case err == nil:
		return nil
	case os.IsNotExist(err):
		return sftp.ErrSSHFxNoSuchFile
	case os.IsPermission(err):
		return sftp.ErrSSHFxPermissionDenied
	default:
		return sftp.ErrSSHFxFailure
	}
}

// wrap returns a telemetry.MeteredFile binding f to the session's counters
// and transfer log under virtualPath. Callers skip it and return f itself
// when telemetry is disabled (demoted session); *os.File already
// implements io.ReaderAt and io.WriterAt natively.
func (h *operationHandler) wrap(f *os.File, virtualPath string) *telemetry.MeteredFile {
	return telemetry.NewMeteredFile(f, virtualPath, h.counters, h.log)
}

// Fileread implements sftp.FileReader. Called for Method == "Get".
func (h *operationHandler) Fileread(r *sftp.Request) (io.ReaderAt, error) {
	hostPath, err := h.resolve(r.Filepath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(hostPath) // #nosec G304 - hostPath is jail-checked
	if err != nil {
		return nil, mapOSError(err)
	}

	if h.counters == nil {
		return f, nil
	}
	return h.wrap(f, pathjail.Canonicalize(r.Filepath)), nil
}

// Filewrite implements sftp.FileWriter. Called for Method == "Put".
func (h *operationHandler) Filewrite(r *sftp.Request) (io.WriterAt, error) {
	if !h.writable {
		return nil, sftp.ErrSSHFxPermissionDenied
	}

	hostPath, err := h.resolve(r.Filepath)
	if err != nil {
		return nil, err
	}

	flags := openFlags(r)
	if flags&os.O_CREATE != 0 {
		if err := os.MkdirAll(filepath.Dir(hostPath), 0o755); err != nil {
			return nil, mapOSError(err)
		}
	}

	f, err := os.OpenFile(hostPath, flags, 0o644) // #nosec G304 - hostPath is jail-checked
	if err != nil {
		return nil, mapOSError(err)
	}

	if h.counters == nil {
		return f, nil
	}
	return h.wrap(f, pathjail.Canonicalize(r.Filepath)), nil
}

// openFlags maps SFTP pflags to os.OpenFile flags per spec.md §6's table.
func openFlags(r *sftp.Request) int {
	pflags := r.Pflags()

	var flags int
	switch {
	case pflags.Write && pflags.Append && pflags.Read:
		flags = os.O_RDWR | os.O_APPEND
	case pflags.Write && pflags.Append:
		flags = os.O_WRONLY | os.O_APPEND
	case pflags.Write && pflags.Read:
		flags = os.O_RDWR
	case pflags.Write:
		flags = os.O_WRONLY | os.O_TRUNC
	default:
		flags = os.O_RDONLY
	}

	if pflags.Creat {
		flags |= os.O_CREATE
	}
	if pflags.Excl {
		flags |= os.O_EXCL
	}
	if pflags.Trunc && pflags.Write {
		flags |= os.O_TRUNC
	}

	return flags
}

// Filecmd implements sftp.FileCmder: setattr, rename, mkdir, rmdir, remove.
func (h *operationHandler) Filecmd(r *sftp.Request) error {
	if !h.writable {
		return sftp.ErrSSHFxPermissionDenied
	}

	switch r.Method {
	case "Setstat":
		return h.setstat(r)
	case "Rename":
		return h.rename(r)
	case "Rmdir":
		return h.rmdir(r)
	case "Mkdir":
		return h.mkdir(r)
	case "Remove":
		return h.remove(r)
	default:
		// symlink/link creation: explicit non-goal
		return sftp.ErrSSHFxOpUnsupported
	}
}

func (h *operationHandler) setstat(r *sftp.Request) error {
	hostPath, err := h.resolve(r.Filepath)
	if err != nil {
		return err
	}

	attrs := r.Attributes()
	flags := r.AttrFlags()
	if flags.Permissions {
		if err := os.Chmod(hostPath, attrs.FileMode().Perm()); err != nil {
			return mapOSError(err)
		}
	}
	if flags.Acmodtime {
		atime := time.Unix(int64(attrs.Atime), 0)
		mtime := time.Unix(int64(attrs.Mtime), 0)
		if err := os.Chtimes(hostPath, atime, mtime); err != nil {
			return mapOSError(err)
		}
	}
	// ownership (uid/gid) changes are silently ignored: no portable chown here.
	return nil
}

func (h *operationHandler) rename(r *sftp.Request) error {
	oldPath, err := h.resolve(r.Filepath)
	if err != nil {
		return err
	}
	newPath, err := h.resolve(r.Target)
	if err != nil {
		return err
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return mapOSError(err)
	}
	return nil
}

func (h *operationHandler) rmdir(r *sftp.Request) error {
	hostPath, err := h.resolve(r.Filepath)
	if err != nil {
		return err
	}
	info, err := os.Stat(hostPath)
	if err != nil {
		return mapOSError(err)
	}
	if !info.IsDir() {
		return sftp.ErrSSHFxFailure
	}
	if err := os.Remove(hostPath); err != nil {
		// a non-empty directory fails os.Remove with ENOTEMPTY
		return sftp.ErrSSHFxFailure
	}
	return nil
}

func (h *operationHandler) mkdir(r *sftp.Request) error {
	hostPath, err := h.resolve(r.Filepath)
	if err != nil {
		return err
	}
	if err := os.Mkdir(hostPath, 0o755); err != nil {
		return mapOSError(err)
	}
	return nil
}

func (h *operationHandler) remove(r *sftp.Request) error {
	hostPath, err := h.resolve(r.Filepath)
	if err != nil {
		return err
	}
	info, err := os.Lstat(hostPath)
	if err != nil {
		return mapOSError(err)
	}
	if info.IsDir() {
		return sftp.ErrSSHFxFailure
	}
	if err := os.Remove(hostPath); err != nil {
		return mapOSError(err)
	}
	return nil
}

// Filelist implements sftp.FileLister: list, stat, lstat.
func (h *operationHandler) Filelist(r *sftp.Request) (sftp.ListerAt, error) {
	switch r.Method {
	case "List":
		return h.list(r)
	case "Stat":
		return h.stat(r, false)
	case "Lstat":
		return h.stat(r, true)
	default:
		return nil, sftp.ErrSSHFxOpUnsupported
	}
}

func (h *operationHandler) stat(r *sftp.Request, lstat bool) (sftp.ListerAt, error) {
	hostPath, err := h.resolve(r.Filepath)
	if err != nil {
		return nil, err
	}

	var info os.FileInfo
	if lstat {
		info, err = os.Lstat(hostPath)
	} else {
		info, err = os.Stat(hostPath)
	}
	if err != nil {
		return nil, mapOSError(err)
	}
	return &listerat{entries: []os.FileInfo{info}}, nil
}

func (h *operationHandler) list(r *sftp.Request) (sftp.ListerAt, error) {
	hostPath, err := h.resolve(r.Filepath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(hostPath)
	if err != nil {
		return nil, mapOSError(err)
	}
	if !info.IsDir() {
		return nil, sftp.ErrSSHFxNoSuchFile
	}

	entries, err := os.ReadDir(hostPath)
	if err != nil {
		return nil, mapOSError(err)
	}

	infos := make([]os.FileInfo, 0, len(entries))
	for _, entry := range entries {
		entryInfo, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, entryInfo)
	}

	sort.Slice(infos, func(i, j int) bool {
		return strings.ToLower(infos[i].Name()) < strings.ToLower(infos[j].Name())
	})

	infos = append([]os.FileInfo{
		&virtualFileInfo{name: "..", mode: os.ModeDir | 0o555, modTime: time.Now(), isDir: true},
	}, infos...)

	return &listerat{entries: infos}, nil
}
