package handlers

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// nativeFSCommands is the fixed five-command subset spec.md §4.4 exec step 7
// names for a native, no-`spawn` implementation. Anything outside this set
// always takes the spawn path.
var nativeFSCommands = flagSet("mkdir", "rm", "cp", "touch", "chmod")

// runNativeFSCommand attempts a POSIX-equivalent in-process implementation
// of one of the five builtin commands for the flag subset `-p -r -R -f`.
// handled is false when the command isn't one of the five or uses a flag this
// implementation doesn't understand — either way the caller falls back to
// spawn (spec.md §4.4 exec step 7: "any error during builtin execution
// falls back to spawn").
func runNativeFSCommand(basename string, args []string) (handled bool, err error) {
	switch basename {
	case "mkdir":
		return nativeMkdir(args)
	case "rm":
		return nativeRm(args)
	case "cp":
		return nativeCp(args)
	case "touch":
		return nativeTouch(args)
	case "chmod":
		return nativeChmod(args)
	default:
		return false, nil
	}
}

func parseFlags(args []string, known map[byte]bool) (flags map[byte]bool, rest []string, ok bool) {
	flags = make(map[byte]bool)
	for _, a := range args {
		if len(a) > 1 && a[0] == '-' && a != "-" && a[1] != '-' {
			for _, c := range a[1:] {
				if !known[byte(c)] {
					return nil, nil, false
				}
				flags[byte(c)] = true
			}
			continue
		}
		rest = append(rest, a)
	}
	return flags, rest, true
}

func nativeMkdir(args []string) (bool, error) {
	flags, rest, ok := parseFlags(args, map[byte]bool{'p': true})
	if !ok || len(rest) == 0 {
		return false, nil
	}
	for _, path := range rest {
		var err error
		if flags['p'] {
			err = os.MkdirAll(path, 0755)
		} else {
			err = os.Mkdir(path, 0755)
		}
		if err != nil {
			return true, err
		}
	}
	return true, nil
}

func nativeRm(args []string) (bool, error) {
	flags, rest, ok := parseFlags(args, map[byte]bool{'r': true, 'R': true, 'f': true})
	if !ok || len(rest) == 0 {
		return false, nil
	}
	recursive := flags['r'] || flags['R']
	force := flags['f']
	for _, path := range rest {
		var err error
		if recursive {
			err = os.RemoveAll(path)
		} else {
			err = os.Remove(path)
		}
		if err != nil && !(force && os.IsNotExist(err)) {
			return true, err
		}
	}
	return true, nil
}

func nativeTouch(args []string) (bool, error) {
	_, rest, ok := parseFlags(args, map[byte]bool{})
	if !ok || len(rest) == 0 {
		return false, nil
	}
	for _, path := range rest {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return true, err
		}
		now := time.Now()
		f.Close()
		if err := os.Chtimes(path, now, now); err != nil {
			return true, err
		}
	}
	return true, nil
}

func nativeChmod(args []string) (bool, error) {
	if len(args) < 2 {
		return false, nil
	}
	mode, err := strconv.ParseUint(args[0], 8, 32)
	if err != nil {
		return false, nil
	}
	for _, path := range args[1:] {
		if err := os.Chmod(path, os.FileMode(mode)); err != nil {
			return true, err
		}
	}
	return true, nil
}

func nativeCp(args []string) (bool, error) {
	flags, rest, ok := parseFlags(args, map[byte]bool{'r': true, 'R': true, 'f': true})
	if !ok || len(rest) < 2 {
		return false, nil
	}
	recursive := flags['r'] || flags['R']
	dst := rest[len(rest)-1]
	srcs := rest[:len(rest)-1]

	info, dstErr := os.Stat(dst)
	dstIsDir := dstErr == nil && info.IsDir()
	if len(srcs) > 1 && !dstIsDir {
		return true, fmt.Errorf("cp: target %q is not a directory", dst)
	}

	for _, src := range srcs {
		srcInfo, err := os.Stat(src)
		if err != nil {
			return true, err
		}
		if srcInfo.IsDir() {
			if !recursive {
				return true, fmt.Errorf("cp: -r not specified; omitting directory %q", src)
			}
			return false, nil // recursive directory copy is left to spawn (tar/cp -r edge cases)
		}
		target := dst
		if dstIsDir {
			target = dst + "/" + srcBase(src)
		}
		if err := copyFile(src, target); err != nil {
			return true, err
		}
	}
	return true, nil
}

func srcBase(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
