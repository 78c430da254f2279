package drobuild

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListingURL(t *testing.T) {
	src := &Source{URL: "https://ftp.gnu.org/gnu/ncurses/ncurses-6.1.tar.gz"}
	assert.Equal(t, "https://ftp.gnu.org/gnu/ncurses/", listingURL(src))

	src.ListingURL = "https://example.com/releases/"
	assert.Equal(t, "https://example.com/releases/", listingURL(src))

	assert.Equal(t, "", listingURL(&Source{}))
}

func TestScanVersions(t *testing.T) {
	page := `<a href="ncurses-5.9.tar.gz">ncurses-5.9.tar.gz</a>
<a href="ncurses-6.1.tar.gz">ncurses-6.1.tar.gz</a>
<a href="ncurses-6.1.tar.gz.sig">sig</a>
<a href="other-1.0.tar.gz">other</a>`

	versions := scanVersions(page, "ncurses")
	assert.Equal(t, []string{"5.9", "6.1"}, versions)
	assert.Empty(t, scanVersions(page, "htop"))
}

func TestVersionLess(t *testing.T) {
	assert.True(t, versionLess("5.9", "6.1"))
	assert.True(t, versionLess("2.2", "2.2.0.1"))
	assert.True(t, versionLess("2.9", "2.10"))
	assert.False(t, versionLess("6.1", "6.1"))
	assert.False(t, versionLess("6.1", "5.9"))
}
