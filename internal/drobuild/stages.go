package drobuild

// Built-in stage definitions. ncurses must complete before htop, which
// links against the staged ncurses via the shared CPPFLAGS/LDFLAGS.

func init() {
	registerStage(&Stage{
		Name:    "ncurses",
		Version: "6.1",
		Source: Source{
			URL:        "https://ftp.gnu.org/gnu/ncurses/ncurses-6.1.tar.gz",
			ListingURL: "https://ftp.gnu.org/gnu/ncurses/",
		},
		Actions: []Action{
			{Name: "configure", Script: `./configure \
  --host=$HOST \
  --prefix=$PREFIX \
  --with-shared \
  --without-normal \
  --without-debug \
  --without-ada \
  --without-manpages \
  --without-tests \
  --disable-nls \
  --enable-overwrite \
  --with-fallbacks=linux,screen,vt100,xterm`},
			{Name: "build", Script: `make`},
			{Name: "install", Script: `make install DESTDIR=$DESTDIR`},
		},
		// Dev-only leftovers; htop finds ncurses through the staging tree,
		// the appliance never needs them.
		PostClean: []string{
			"lib/*.a",
			"bin/ncurses*-config",
		},
	})

	registerStage(&Stage{
		Name:     "htop",
		Version:  "2.2.0",
		Requires: []string{"ncurses"},
		Source: Source{
			URL:        "https://hisham.hm/htop/releases/2.2.0/htop-2.2.0.tar.gz",
			ListingURL: "https://github.com/htop-dev/htop/releases",
		},
		Env: map[string]string{
			// configure cannot probe /proc on the build host for the target
			"ac_cv_file__proc_stat":    "yes",
			"ac_cv_file__proc_meminfo": "yes",
		},
		Actions: []Action{
			{Name: "configure", Script: `./configure \
  --host=$HOST \
  --prefix=$PREFIX \
  --disable-unicode \
  ac_cv_file__proc_stat=yes \
  ac_cv_file__proc_meminfo=yes`},
			{Name: "build", Script: `make`},
			{Name: "install", Script: `make install DESTDIR=$DESTDIR`},
		},
		PostClean: []string{
			"share/applications",
			"share/pixmaps",
		},
	})
}
