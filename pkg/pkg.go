// Package pkg pulls in every storage backend and package type so their
// init-time factory registrations run. The CLI blank-imports this package.
package pkg

import (
	_ "depot/pkg/repo/plugin"
	_ "depot/pkg/repo/software"
	_ "depot/pkg/repo/theme"
	_ "depot/pkg/storage/local"
	_ "depot/pkg/storage/mindb"
	_ "depot/pkg/storage/s3"
)
