// Command galleryctl administers the gallery from the shell: migrations,
// bulk ingest, listings, deletes and owner tokens.
package main

func main() {
	Execute()
}
