/*
Package catalog reads the US Topo product manifest.

The manifest is a CSV file with one header row. Only rows describing the
current revision of the "US Topo" series are returned by Reader; every other
row is skipped silently. Rows that are relevant but malformed are reported
as *ParseError and end the read.

	r, err := catalog.Open("/srv/ustopo/ustopo_current.csv.gz")
	if err != nil {
	    ...
	}
	defer r.Close()
	for {
	    entry, err := r.Next()
	    if err == io.EOF {
	        break
	    }
	    ...
	}

Manifests ending in .gz, .bz2 or .xz are decompressed on the fly.
*/
package catalog
