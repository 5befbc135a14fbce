// Command client is a probe for a running directory: it fetches the key
// configuration, then posts to or polls a mailbox through the full OHTTP
// round trip. Useful for smoke-testing a deployment.
package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"pjdir/internal/bhttp"
	"pjdir/internal/constants"
	"pjdir/internal/mailbox"
	"pjdir/internal/ohttp"
	"pjdir/internal/utils"
)

func main() {
	godotenv.Load()

	if len(os.Args) < 2 {
		usage()
	}

	directory := utils.GetEnv("PJDIR_URL", "http://"+constants.DefaultHost)
	httpClient := &http.Client{Timeout: 60 * time.Second}

	var err error
	switch os.Args[1] {
	case "keys":
		err = showKeys(httpClient, directory)
	case "post":
		if len(os.Args) < 4 {
			usage()
		}
		payload := []byte(strings.Join(os.Args[4:], " "))
		if len(payload) == 0 {
			payload = []byte("probe-" + uuid.New().String())
		}
		err = post(httpClient, directory, os.Args[2], os.Args[3], payload)
	case "poll":
		if len(os.Args) < 4 {
			usage()
		}
		err = poll(httpClient, directory, os.Args[2], os.Args[3])
	default:
		usage()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s✗ %v%s\n", constants.ColorRed, err, constants.ColorReset)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(constants.MsgUsage)
	fmt.Println(constants.MsgExample)
	fmt.Println("  keys                          fetch and describe the key configuration")
	fmt.Println("  post <session> <dir> [data]   store a payload (dir: request|response)")
	fmt.Println("  poll <session> <dir>          long-poll for a payload")
	os.Exit(1)
}

func fetchConfig(client *http.Client, directory string) (ohttp.PublicConfig, error) {
	resp, err := client.Get(directory + constants.EndpointKeys)
	if err != nil {
		return ohttp.PublicConfig{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ohttp.PublicConfig{}, fmt.Errorf("key fetch returned %s", resp.Status)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, constants.MaxEncapsulatedSize))
	if err != nil {
		return ohttp.PublicConfig{}, err
	}
	configs, err := ohttp.ParseAdvertisement(b)
	if err != nil {
		return ohttp.PublicConfig{}, err
	}
	return configs[0], nil
}

func showKeys(client *http.Client, directory string) error {
	cfg, err := fetchConfig(client, directory)
	if err != nil {
		return err
	}
	fmt.Printf("%s✓%s key config id %d (x25519/hkdf-sha256/chacha20poly1305)\n",
		constants.ColorGreen, constants.ColorReset, cfg.ID)
	return nil
}

// roundTrip encapsulates one inner request, sends it through the
// gateway endpoint and returns the decapsulated inner response.
func roundTrip(client *http.Client, directory string, inner *bhttp.Request) (*bhttp.Response, error) {
	cfg, err := fetchConfig(client, directory)
	if err != nil {
		return nil, err
	}

	capsule, session, err := ohttp.EncapsulateRequest(cfg, bhttp.EncodeRequest(inner))
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, directory, bytes.NewReader(capsule))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", constants.ContentTypeOhttpReq)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directory returned %s", resp.Status)
	}

	sealed, err := io.ReadAll(io.LimitReader(resp.Body, constants.MaxEncapsulatedSize))
	if err != nil {
		return nil, err
	}
	plaintext, err := session.DecapsulateResponse(sealed)
	if err != nil {
		return nil, err
	}
	return bhttp.DecodeResponse(plaintext, constants.MaxInnerMessageSize)
}

func post(client *http.Client, directory, session, dir string, payload []byte) error {
	if !mailbox.Direction(dir).Valid() {
		return fmt.Errorf("direction must be %q or %q", mailbox.DirRequest, mailbox.DirResponse)
	}

	inner := &bhttp.Request{
		Method: http.MethodPost,
		Scheme: "https",
		Path:   "/" + session + "/" + dir,
		Body:   payload,
	}
	resp, err := roundTrip(client, directory, inner)
	if err != nil {
		return err
	}
	if resp.Status != http.StatusOK {
		return fmt.Errorf("mailbox post rejected: inner status %d: %s", resp.Status, resp.Body)
	}
	fmt.Printf("%s✓%s stored %d bytes in %s/%s\n",
		constants.ColorGreen, constants.ColorReset, len(payload), session, dir)
	return nil
}

func poll(client *http.Client, directory, session, dir string) error {
	if !mailbox.Direction(dir).Valid() {
		return fmt.Errorf("direction must be %q or %q", mailbox.DirRequest, mailbox.DirResponse)
	}

	inner := &bhttp.Request{
		Method: http.MethodGet,
		Scheme: "https",
		Path:   "/" + session + "/" + dir,
	}
	resp, err := roundTrip(client, directory, inner)
	if err != nil {
		return err
	}
	switch resp.Status {
	case http.StatusOK:
		fmt.Printf("%s✓%s received %d bytes\n", constants.ColorGreen, constants.ColorReset, len(resp.Body))
		os.Stdout.Write(resp.Body)
		fmt.Println()
	case http.StatusAccepted:
		fmt.Printf("%s…%s nothing yet, ask again later\n", constants.ColorYellow, constants.ColorReset)
	default:
		return fmt.Errorf("poll rejected: inner status %d: %s", resp.Status, resp.Body)
	}
	return nil
}
