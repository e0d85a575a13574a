package dataset

import (
	"bufio"
	"io"
	"os"
	"path"
	"sort"
	"strings"
)

// Categories maps a class id to the set of its instance ids.
type Categories map[string]map[string]struct{}

// ReadCategories groups the entries of a file list by class. Each line is a
// slash-separated path of the form .../<class>/<instance>/<dir>/<file>.
func ReadCategories(r io.Reader) (Categories, error) {
	cats := Categories{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		class, instance, ok := ClassOf(line)
		if !ok {
			continue
		}
		set, ok := cats[class]
		if !ok {
			set = map[string]struct{}{}
			cats[class] = set
		}
		set[instance] = struct{}{}
	}
	return cats, scanner.Err()
}

// ClassOf extracts the class and instance ids from a slash-separated sample
// path of the form .../<class>/<instance>/<dir>/<file>.
func ClassOf(p string) (class, instance string, ok bool) {
	instanceDir := path.Dir(path.Dir(p))
	instance = path.Base(instanceDir)
	class = path.Base(path.Dir(instanceDir))
	if instance == "." || instance == "/" || class == "." || class == "/" {
		return "", "", false
	}
	return class, instance, true
}

// ReadCategoriesFile reads a file list from disk.
func ReadCategoriesFile(name string) (Categories, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCategories(f)
}

// Classes returns the class ids in sorted order; the position of a class is
// its label.
func (c Categories) Classes() []string {
	out := make([]string, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Labels maps every class id to its label.
func (c Categories) Labels() map[string]int {
	out := make(map[string]int, len(c))
	for i, k := range c.Classes() {
		out[k] = i
	}
	return out
}
