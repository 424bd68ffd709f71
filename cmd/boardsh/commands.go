package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ardnew/boardsh/fsops"
	"github.com/ardnew/boardsh/hotplug"
	"github.com/ardnew/boardsh/pkg"
	"github.com/ardnew/boardsh/route"
	"github.com/ardnew/boardsh/session"
)

func portsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "list serial adapters",
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := hotplug.ListPorts()
			if err != nil {
				return err
			}
			for _, p := range ports {
				p = hotplug.DescribePort(p)
				line := p.Device
				if p.VID != "" {
					line += fmt.Sprintf("  [%s:%s]", p.VID, p.PID)
				}
				if p.Product != "" {
					line += "  " + p.Product
				}
				if p.SerialNumber != "" {
					line += "  serial " + p.SerialNumber
				}
				if p.IsBoard() {
					line += "  (board)"
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

func lsCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "ls [DIR...]",
		Short: "list a directory on the host or the board",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"."}
			}
			if err := connectIfRemote(args); err != nil {
				return err
			}
			for _, arg := range args {
				path := route.Normalize(arg, cwd())
				entries, err := fsops.ListdirStat(path, all)
				if err != nil {
					return err
				}
				if entries == nil {
					return fmt.Errorf("ls %s: no such directory", arg)
				}
				sort.Slice(entries, func(i, j int) bool {
					return entries[i].Name < entries[j].Name
				})
				for _, e := range entries {
					name := e.Name
					if fsops.ModeIsDir(fsops.StatMode(e.Stat)) {
						name += "/"
						fmt.Printf("%10s %s\n", "", name)
						continue
					}
					fmt.Printf("%10d %s\n", fsops.StatSize(e.Stat), name)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include hidden files")
	return cmd
}

func catCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat FILE...",
		Short: "print files from the host or the board",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := connectIfRemote(args); err != nil {
				return err
			}
			for _, arg := range args {
				if err := fsops.Cat(route.Normalize(arg, cwd()), os.Stdout); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func cpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cp SRC DST",
		Short: "copy a file between host and board",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := connectIfRemote(args); err != nil {
				return err
			}
			return fsops.Cp(route.Normalize(args[0], cwd()), route.Normalize(args[1], cwd()))
		},
	}
}

func rmCmd() *cobra.Command {
	var recursive, force bool
	cmd := &cobra.Command{
		Use:   "rm FILE...",
		Short: "remove files or directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := connectIfRemote(args); err != nil {
				return err
			}
			for _, arg := range args {
				if err := fsops.Rm(route.Normalize(arg, cwd()), recursive, force); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "remove directories and their contents")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "ignore nonexistent files")
	return cmd
}

func mkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir DIR...",
		Short: "create directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := connectIfRemote(args); err != nil {
				return err
			}
			for _, arg := range args {
				if err := fsops.Mkdir(route.Normalize(arg, cwd())); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func rsyncCmd() *cobra.Command {
	var mirror, dryRun, quiet, all bool
	cmd := &cobra.Command{
		Use:   "rsync SRC_DIR DST_DIR",
		Short: "synchronise a directory tree",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := connectIfRemote(args); err != nil {
				return err
			}
			sync := fsops.SyncOptions{
				Mirror:        mirror,
				DryRun:        dryRun,
				IncludeHidden: all,
			}
			if !quiet || dryRun {
				sync.Report = func(action fsops.SyncAction, path string) {
					fmt.Printf("%-7s %s\n", action, path)
				}
			}
			return fsops.Rsync(route.Normalize(args[0], cwd()), route.Normalize(args[1], cwd()), sync)
		},
	}
	cmd.Flags().BoolVarP(&mirror, "mirror", "m", false, "delete destination files absent from the source")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "report actions without performing them")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not report actions")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include hidden files")
	return cmd
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run FILE",
		Short: "run a local script on the board, streaming its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			s, err := ensureSession()
			if err != nil {
				return err
			}
			ctrl := s.Controller()
			_, errOut, err := ctrl.Exec(src, nil, 0, &eotStripper{w: os.Stdout})
			if err != nil {
				ctrl.ExitRaw()
				s.Close()
				return err
			}
			if err := ctrl.ExitRaw(); err != nil {
				s.Close()
				return err
			}
			if len(errOut) > 0 {
				os.Stderr.Write(errOut)
				return errors.New("script raised an exception")
			}
			return nil
		},
	}
}

func replCmd() *cobra.Command {
	var initial string
	var quitWhenIdle bool
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "open the board's interactive prompt",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ensureSession()
			if err != nil {
				return err
			}
			fd := int(os.Stdin.Fd())
			if term.IsTerminal(fd) {
				state, err := term.MakeRaw(fd)
				if err != nil {
					return err
				}
				defer term.Restore(fd, state)
			}
			fmt.Printf("Entering REPL on %s. Use Control-X to exit.\r\n", s.Name())
			p := &session.Passthrough{Initial: initial, QuitWhenIdle: quitWhenIdle}
			err = p.Run(s, os.Stdin, os.Stdout)
			fmt.Print("\r\n")
			return err
		},
	}
	cmd.Flags().StringVarP(&initial, "command", "c", "", "line to send to the REPL on entry")
	cmd.Flags().BoolVar(&quitWhenIdle, "quit-when-idle", false, "exit once the board stops producing output")
	return cmd
}

// eotStripper drops the EOT markers that delimit the board's output
// streams before they reach the terminal.
type eotStripper struct {
	w io.Writer
}

func (e *eotStripper) Write(p []byte) (int, error) {
	clean := bytes.ReplaceAll(p, []byte{0x04}, nil)
	if _, err := e.w.Write(clean); err != nil {
		return 0, err
	}
	return len(p), nil
}

// cwd returns the host working directory for relative-path resolution.
func cwd() string {
	dir, err := os.Getwd()
	if err != nil {
		return "/"
	}
	return dir
}

// connectIfRemote attaches a board when an argument carries the ':'
// remote prefix or a port is configured. With neither, the command runs
// without touching the serial bus.
func connectIfRemote(args []string) error {
	needed := false
	for _, arg := range args {
		if len(arg) > 0 && arg[0] == ':' {
			needed = true
			break
		}
	}
	if !needed && opts.Port == "" {
		return nil
	}
	if _, err := ensureSession(); err != nil {
		// Waiting out hot-plug attach covers the race where autoconnect
		// is still retrying the port.
		if opts.Autoconnect && errors.Is(err, pkg.ErrPortUnavailable) {
			time.Sleep(time.Second)
			if session.Current() != nil {
				return nil
			}
		}
		return err
	}
	return nil
}
