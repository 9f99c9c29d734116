package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// stateCmd prints /admin/v1/state of a running server, indented unless -raw.
// The server only answers it for loopback clients.
func stateCmd(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	raw := fs.Bool("raw", false, "print the response body unchanged")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/v1/state"
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(u)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		return 1
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		return 1
	}
	if resp.StatusCode/100 != 2 {
		fmt.Fprintf(os.Stderr, "%s: status=%d %s\n", u, resp.StatusCode, strings.TrimSpace(string(body)))
		return 1
	}
	var pretty bytes.Buffer
	if *raw || json.Indent(&pretty, body, "", "  ") != nil {
		out.Write(body)
		return 0
	}
	pretty.WriteByte('\n')
	out.Write(pretty.Bytes())
	return 0
}
