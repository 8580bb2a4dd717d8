package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/ryandielhenn/benor/pkg/consensus"
)

// bench starts every node of a running cluster at once, then reads back each
// node's state and reports whether the decided nodes agree.
func main() {
	host := flag.String("host", "localhost", "host the nodes listen on")
	base := flag.Int("base-port", 3000, "node i listens on base-port+i")
	n := flag.Int("n", 4, "number of nodes")
	timeout := flag.Duration("timeout", 30*time.Second, "per-request timeout")
	flag.Parse()

	client := &http.Client{Timeout: *timeout}
	url := func(i int, path string) string {
		return "http://" + net.JoinHostPort(*host, strconv.Itoa(*base+i)) + path
	}

	wg := sync.WaitGroup{}
	start := time.Now()
	codes := make([]int, *n)
	for i := 0; i < *n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := client.Get(url(i, "/start"))
			if err != nil {
				return
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			codes[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()
	dur := time.Since(start)

	decided := map[consensus.Value]int{}
	for i := 0; i < *n; i++ {
		st, err := getState(client, url(i, "/getState"))
		if err != nil {
			fmt.Printf("node %d: %v\n", i, err)
			continue
		}
		switch {
		case st.K == nil:
			fmt.Printf("node %d: faulty (start %d)\n", i, codes[i])
		default:
			fmt.Printf("node %d: x=%s decided=%t k=%d killed=%t (start %d)\n",
				i, st.X, *st.Decided, *st.K, st.Killed, codes[i])
			if *st.Decided {
				decided[st.X]++
			}
		}
	}

	fmt.Printf("Completed %d starts in %s\n", *n, dur)
	if len(decided) > 1 {
		fmt.Printf("DISAGREEMENT: %v\n", decided)
		os.Exit(1)
	}
	for v, c := range decided {
		fmt.Printf("%d nodes agree on %s\n", c, v)
	}
}

func getState(client *http.Client, url string) (consensus.State, error) {
	var st consensus.State
	resp, err := client.Get(url)
	if err != nil {
		return st, err
	}
	defer resp.Body.Close()
	err = json.NewDecoder(resp.Body).Decode(&st)
	return st, err
}
