package lineprog

import "strings"

// normalizeForComparison lexically normalizes p for the sole purpose of
// comparing two paths for equality (spec §4.3/§6): both Windows and POSIX
// separators are accepted, '.' segments are dropped and '..' segments are
// resolved against whatever real segment precedes them. No filesystem
// access is performed, so a leading ".." that has nothing to consume is
// kept verbatim rather than erroring.
func normalizeForComparison(p string) string {
	slashed := strings.ReplaceAll(p, `\`, `/`)
	abs := strings.HasPrefix(slashed, "/")
	parts := strings.Split(slashed, "/")

	out := make([]string, 0, len(parts))
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 && out[len(out)-1] != ".." {
				out = out[:len(out)-1]
			} else if !abs {
				out = append(out, part)
			}
			// an absolute path can't go above root; drop the segment.
		default:
			out = append(out, part)
		}
	}

	joined := strings.Join(out, "/")
	if abs {
		return "/" + joined
	}
	return joined
}

// pathsEqual reports whether a and b refer to the same file once both are
// lexically normalized, per spec §6 ("Path equality").
func pathsEqual(a, b string) bool {
	return normalizeForComparison(a) == normalizeForComparison(b)
}

// joinDir combines a directory (which may be empty) with a file name the way
// spec §4.3 "Path reconstruction" describes: if name is already absolute (by
// either separator convention) it is returned unchanged, otherwise dir/name
// is joined with a forward slash, leaving drive letters and backslashes
// exactly as the DWARF data supplied them (no separator translation on
// output).
func joinDir(dir, name string) string {
	if name == "" {
		return dir
	}
	if isAbsPath(name) || dir == "" {
		return name
	}
	if strings.HasSuffix(dir, "/") || strings.HasSuffix(dir, `\`) {
		return dir + name
	}
	return dir + "/" + name
}

func isAbsPath(p string) bool {
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, `\`) {
		return true
	}
	// crude drive-letter check, e.g. "C:\..." or "C:/..."
	if len(p) >= 2 && p[1] == ':' {
		return true
	}
	return false
}
