// Command gallery serves and browses the Art Institute of Chicago collection.
package main

import "github.com/Sternrassler/artic-gallery/internal/cli"

func main() {
	cli.Execute()
}
