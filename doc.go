/*
Package topomirror keeps a local mirror of the USGS US Topo map catalog.

The catalog manifest is a CSV file listing every published quadrangle map.
topomirror reads it, selects the current US Topo editions, and makes sure
each one exists locally as root/<state>/<map name>.pdf with exactly the
size the manifest declares. Missing or stale maps are downloaded as zip
archives and their single GeoPDF member is extracted into place.

Features:
  - Plain, gzip, bzip2 and xz compressed manifests
  - Optional PGP verification of a detached manifest signature
  - Size-based freshness checks, so repeated runs download nothing
  - Atomic replacement of map files and a run lock per mirror root
  - Continue or abort policies for failed maps, and a dry-run report

The main packages are:

	github.com/mirrorctl/topomirror/internal/catalog  - manifest parsing, filtering and signature checks
	github.com/mirrorctl/topomirror/internal/mirror   - download, extraction and synchronization
	github.com/mirrorctl/topomirror/internal/artifact - file size and checksum bookkeeping
	github.com/mirrorctl/topomirror/cmd/topomirror    - command-line interface
*/
package topomirror
