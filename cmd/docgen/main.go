// Command docgen builds docs/api.adoc from the @Title/@Route/@Description/
// @Response annotations on the handlers in internal/api.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

type Endpoint struct {
	Title       string
	Route       string
	Description string
	Response    string
}

var (
	reTitle = regexp.MustCompile(`// @Title: (.*)`)
	reRoute = regexp.MustCompile(`// @Route: (.*)`)
	reDesc  = regexp.MustCompile(`// @Description: (.*)`)
	reResp  = regexp.MustCompile(`// @Response: (.*)`)
)

func main() {
	apiDir := flag.String("api", "internal/api", "directory holding the annotated handlers")
	out := flag.String("out", "docs/api.adoc", "output file")
	flag.Parse()

	endpoints, err := collect(*apiDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var b strings.Builder
	writeAsciiDoc(&b, endpoints)
	if err := os.WriteFile(*out, []byte(b.String()), 0o644); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("Generated %s (%d endpoints)\n", *out, len(endpoints))
}

// collect parses every non-test Go file in dir, in file name order.
func collect(dir string) ([]Endpoint, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })

	var endpoints []Endpoint
	for _, file := range files {
		name := file.Name()
		if !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, parse(f)...)
		f.Close()
	}
	return endpoints, nil
}

func parse(r io.Reader) []Endpoint {
	var endpoints []Endpoint
	var current Endpoint

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()

		if match := reTitle.FindStringSubmatch(line); len(match) > 1 {
			current.Title = strings.TrimSpace(match[1])
		}
		if match := reRoute.FindStringSubmatch(line); len(match) > 1 {
			current.Route = strings.TrimSpace(match[1])
		}
		if match := reDesc.FindStringSubmatch(line); len(match) > 1 {
			current.Description = strings.TrimSpace(match[1])
		}
		if match := reResp.FindStringSubmatch(line); len(match) > 1 {
			current.Response = strings.TrimSpace(match[1])
			// End of block, append and reset
			if current.Title != "" && current.Route != "" {
				endpoints = append(endpoints, current)
			}
			current = Endpoint{}
		}
	}
	return endpoints
}

func writeAsciiDoc(w io.Writer, endpoints []Endpoint) {
	fmt.Fprintln(w, "= API Reference")
	fmt.Fprintln(w, ":toc:")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Generated from the handler annotations in `internal/api` by `go run ./cmd/docgen`.")
	fmt.Fprintln(w, "Do not edit by hand.")

	for _, ep := range endpoints {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "== %s\n\n", ep.Title)
		fmt.Fprintf(w, "`%s`\n\n", ep.Route)
		if ep.Description != "" {
			fmt.Fprintf(w, "%s.\n\n", strings.TrimSuffix(ep.Description, "."))
		}
		fmt.Fprintf(w, "Response: `%s`\n", ep.Response)
	}
}
