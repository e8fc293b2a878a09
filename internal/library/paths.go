package library

import (
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/shelfgrab/shelfgrab/internal/models"
	"github.com/shelfgrab/shelfgrab/internal/normalize"
)

const unknownAuthor = "Unknown Author"

var (
	invalidChars    = []string{"<", ">", "\"", "/", "\\", "|", "?", "*"}
	multipleSpaces  = regexp.MustCompile(`\s+`)
	extraExtensions = []string{"jpg", "jpeg", "png", "cue", "nfo"}
)

// ItemDir returns the library folder of an item:
// <root>/<Author>/<Series #N>/<Title>. The series level is left out for
// standalone titles.
func ItemDir(root string, meta models.ItemMeta) string {
	author := unknownAuthor
	if len(meta.Authors) > 0 {
		author = cleanName(meta.Authors[0])
	}

	parts := []string{root, author}
	if len(meta.Series) > 0 && meta.Series[0].Name != "" {
		series := meta.Series[0].Name
		if meta.Series[0].Entries != "" {
			series += " #" + meta.Series[0].Entries
		}
		parts = append(parts, cleanName(series))
	}

	title := meta.Title
	if meta.Edition != nil && meta.Edition.Name != "" {
		title += " (" + meta.Edition.Name + ")"
	}
	parts = append(parts, cleanName(title))
	return filepath.Join(parts...)
}

// cleanName makes a string safe as a single path element.
func cleanName(name string) string {
	name = strings.ReplaceAll(name, ":", " -")
	for _, char := range invalidChars {
		name = strings.ReplaceAll(name, char, "")
	}
	name = multipleSpaces.ReplaceAllString(name, " ")
	name = strings.Trim(strings.TrimSpace(name), ".")
	if name == "" {
		return "_"
	}
	return name
}

// chooseFormat returns the most preferred extension present among files
// for the media type, or "" when none is preferred.
func chooseFormat(files []string, preferred []string) string {
	present := make(map[string]bool, len(files))
	for _, f := range files {
		present[normalize.Filetype(path.Ext(f))] = true
	}
	for _, ft := range preferred {
		if present[ft] {
			return ft
		}
	}
	return ""
}

// selectFiles returns the files to link: those of format plus extras
// such as cover art. With no format every file is linked.
func selectFiles(files []string, format string) []string {
	if format == "" {
		return slices.Clone(files)
	}
	var out []string
	for _, f := range files {
		ext := normalize.Filetype(path.Ext(f))
		if ext == format || slices.Contains(extraExtensions, ext) {
			out = append(out, f)
		}
	}
	return out
}

// relativePaths strips the torrent's top folder when every file sits in
// it. Paths use forward slashes, as download clients report them.
func relativePaths(files []string) map[string]string {
	out := make(map[string]string, len(files))
	root := ""
	for i, f := range files {
		first, _, nested := strings.Cut(f, "/")
		if !nested {
			root = ""
			break
		}
		if i == 0 {
			root = first
		} else if first != root {
			root = ""
			break
		}
	}
	for _, f := range files {
		rel := f
		if root != "" {
			rel = strings.TrimPrefix(f, root+"/")
		}
		out[f] = rel
	}
	return out
}
