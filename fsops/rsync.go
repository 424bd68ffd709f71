package fsops

import (
	"fmt"
	"strings"

	"github.com/ardnew/boardsh/pkg"
)

// SyncAction identifies one step of a directory synchronisation.
type SyncAction string

// Actions reported while syncing.
const (
	SyncAdd    SyncAction = "add"
	SyncUpdate SyncAction = "update"
	SyncCheck  SyncAction = "check"
	SyncRemove SyncAction = "remove"
	SyncMkdir  SyncAction = "mkdir"
	SyncIgnore SyncAction = "ignore"
)

// SyncOptions controls Rsync.
type SyncOptions struct {
	// Mirror removes destination entries absent from the source.
	// Without it only copies occur.
	Mirror bool

	// DryRun reports what would be done without transferring a byte.
	DryRun bool

	// IncludeHidden syncs dotfiles and editor backups too.
	IncludeHidden bool

	// Report, when non-nil, receives each action as it is decided.
	Report func(action SyncAction, path string)
}

func (o *SyncOptions) report(action SyncAction, path string) {
	if o.Report != nil {
		o.Report(action, path)
	}
}

// Rsync synchronises the destination directory tree with the source
// tree. Either side may be on the board; __pycache__ trees are always
// skipped. Files are copied when the source is newer by mtime; with
// Mirror, destination entries missing from the source are removed.
func Rsync(srcDir, dstDir string, opts SyncOptions) error {
	if len(srcDir) > 1 {
		srcDir = strings.TrimSuffix(srcDir, "/")
	}
	if len(dstDir) > 1 {
		dstDir = strings.TrimSuffix(dstDir, "/")
	}
	return rsync(srcDir, dstDir, &opts)
}

func rsync(srcDir, dstDir string, opts *SyncOptions) error {
	if strings.Contains(srcDir, "__pycache__") {
		return nil
	}

	srcMode, err := Mode(srcDir)
	if err != nil {
		return err
	}
	if ModeIsFile(srcMode) {
		return fmt.Errorf("source %s is a file, not a directory", srcDir)
	}

	srcEntries, err := ListdirStat(srcDir, opts.IncludeHidden)
	if err != nil {
		return err
	}
	if srcEntries == nil {
		return fmt.Errorf("source directory %s does not exist", srcDir)
	}
	srcByName := map[string]Entry{}
	for _, e := range srcEntries {
		if strings.Contains(e.Name, "__pycache__") {
			continue
		}
		srcByName[e.Name] = e
	}

	dstEntries, err := ListdirStat(dstDir, opts.IncludeHidden)
	if err != nil {
		return err
	}
	dstByName := map[string]Entry{}
	if dstEntries == nil {
		opts.report(SyncMkdir, dstDir)
		if !opts.DryRun {
			if err := Mkdir(dstDir); err != nil {
				return err
			}
		}
	} else {
		for _, e := range dstEntries {
			dstByName[e.Name] = e
		}
	}

	// Names only in the source: copy, recursing into directories.
	for name, e := range srcByName {
		if _, exists := dstByName[name]; exists {
			continue
		}
		srcPath := srcDir + "/" + name
		dstPath := dstDir + "/" + name
		if ModeIsDir(StatMode(e.Stat)) {
			if err := rsync(srcPath, dstPath, opts); err != nil {
				return err
			}
			continue
		}
		opts.report(SyncAdd, dstPath)
		if !opts.DryRun {
			if err := Cp(srcPath, dstPath); err != nil {
				return err
			}
		}
	}

	// Names only in the destination: remove when mirroring.
	if opts.Mirror {
		for name := range dstByName {
			if _, exists := srcByName[name]; exists {
				continue
			}
			dstPath := dstDir + "/" + name
			opts.report(SyncRemove, dstPath)
			if !opts.DryRun {
				if err := Rm(dstPath, true, true); err != nil {
					return err
				}
			}
		}
	}

	// Names in both: recurse, update by mtime, or flag the mismatch.
	for name, se := range srcByName {
		de, exists := dstByName[name]
		if !exists {
			continue
		}
		srcPath := srcDir + "/" + name
		dstPath := dstDir + "/" + name
		srcIsDir := ModeIsDir(StatMode(se.Stat))
		dstIsDir := ModeIsDir(StatMode(de.Stat))
		switch {
		case srcIsDir && dstIsDir:
			if err := rsync(srcPath, dstPath, opts); err != nil {
				return err
			}
		case srcIsDir != dstIsDir:
			opts.report(SyncIgnore, dstPath)
			pkg.LogWarn(pkg.ComponentFsops, "file/directory mismatch",
				"src", srcPath, "dst", dstPath)
		default:
			opts.report(SyncCheck, dstPath)
			if StatMtime(se.Stat) > StatMtime(de.Stat) {
				opts.report(SyncUpdate, dstPath)
				if !opts.DryRun {
					if err := Cp(srcPath, dstPath); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}
