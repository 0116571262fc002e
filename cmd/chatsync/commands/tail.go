package commands

import (
	"bufio"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

var tailURL string

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow the live event stream of a running server",
	Long: `Attach to a running server's SSE firehose and print every event as
it happens. Useful for debugging fan-out behavior with several tabs open.`,
	RunE: runTail,
}

func init() {
	tailCmd.Flags().StringVar(&tailURL, "url", "http://localhost:8080", "Server base URL")
}

func runTail(cmd *cobra.Command, args []string) error {
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, strings.TrimRight(tailURL, "/")+"/event", nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			fmt.Println(strings.TrimPrefix(line, "data: "))
		}
	}
	return scanner.Err()
}
