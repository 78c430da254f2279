package drobuild

import (
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

// listingURL returns the page to scan for release tarballs, defaulting to
// the directory portion of the source URL.
func listingURL(src *Source) string {
	if src.ListingURL != "" {
		return src.ListingURL
	}
	if src.URL == "" {
		return ""
	}
	idx := strings.LastIndexByte(src.URL, '/')
	if idx == -1 {
		return ""
	}
	return src.URL[:idx+1]
}

// scanVersions extracts "<name>-<version>.tar*" version strings from a
// release listing page.
func scanVersions(page, name string) []string {
	re := regexp.MustCompile(regexp.QuoteMeta(name) + `-([0-9]+(?:\.[0-9]+)*)\.(?:tar|tgz|zip)`)
	seen := make(map[string]bool)
	var versions []string
	for _, m := range re.FindAllStringSubmatch(page, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			versions = append(versions, m[1])
		}
	}
	return versions
}

// versionLess compares dotted numeric version strings.
func versionLess(a, b string) bool {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv int
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		if av != bv {
			return av < bv
		}
	}
	return false
}

// checkOutdated fetches each stage's upstream release listing and reports
// versions newer than the declared one. Purely informational; a stage
// whose listing cannot be read is reported and skipped.
func checkOutdated(cfg *Config) error {
	client := newHttpClient()

	names, err := pipelineStages()
	if err != nil {
		return err
	}

	for _, name := range names {
		st := stageRegistry[name]
		if st.Version == "" || st.Source.format() == FormatGit {
			continue
		}
		url := listingURL(&st.Source)
		if url == "" {
			continue
		}

		resp, err := client.Get(url)
		if err != nil {
			colWarn.Printf("%s: could not read release listing %s: %v\n", name, url, err)
			continue
		}
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			colWarn.Printf("%s: release listing %s returned %s\n", name, url, resp.Status)
			continue
		}
		if readErr != nil {
			colWarn.Printf("%s: failed reading release listing: %v\n", name, readErr)
			continue
		}

		latest := st.Version
		for _, v := range scanVersions(string(body), st.Name) {
			if versionLess(latest, v) {
				latest = v
			}
		}

		if latest != st.Version {
			arrowPrintf(colWarn, "%s: %s -> %s available\n", name, st.Version, latest)
		} else {
			arrowPrintf(colSuccess, "%s: %s is current\n", name, st.Version)
		}
	}
	return nil
}
