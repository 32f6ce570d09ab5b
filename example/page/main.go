package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
)

// Simulates one dapp page talking to a running sophon-provider daemon
// over the page-port endpoint. Useful for exercising the confirmation
// flow by hand: run the daemon, run this, then resolve the prompts with
// `sophon-provider pending approve`.

const (
	portEndpoint = "ws://127.0.0.1:45232/port"
	pageOrigin   = "https://dapp.example"
)

type frame struct {
	ID     uint64            `json:"id,omitempty"`
	Method string            `json:"method,omitempty"`
	Params []json.RawMessage `json:"params,omitempty"`

	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`

	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	query := url.Values{}
	query.Set("url", pageOrigin+"/app")
	query.Set("site", "example dapp")
	query.Set("tab", "1")
	query.Set("window", "1")

	header := http.Header{}
	header.Set("Origin", pageOrigin)

	conn, resp, err := websocket.DefaultDialer.Dial(portEndpoint+"?"+query.Encode(), header)
	if err != nil {
		log.Fatalf("dial port: %v", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer conn.Close()

	responses := make(chan frame)
	go func() {
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				close(responses)
				return
			}
			if f.Event != "" {
				fmt.Printf("event %s: %s\n", f.Event, f.Payload)
				continue
			}
			responses <- f
		}
	}()

	call := func(id uint64, method string, params ...interface{}) {
		raws := make([]json.RawMessage, 0, len(params))
		for _, p := range params {
			b, err := json.Marshal(p)
			if err != nil {
				log.Fatalf("marshal param: %v", err)
			}
			raws = append(raws, b)
		}
		if err := conn.WriteJSON(frame{ID: id, Method: method, Params: raws}); err != nil {
			log.Fatalf("write %s: %v", method, err)
		}
		f, ok := <-responses
		if !ok {
			log.Fatalf("port closed waiting for %s", method)
		}
		if f.Error != nil {
			fmt.Printf("%s -> error %s\n", method, f.Error)
			return
		}
		fmt.Printf("%s -> %s\n", method, f.Result)
	}

	call(1, "eth_chainId")
	call(2, "net_version")
	// Parks until the prompt is approved or rejected.
	call(3, "eth_requestAccounts")
	call(4, "eth_accounts")
	call(5, "eth_subscribe", "newHeads")
	call(6, "personal_sign", "0x68656c6c6f", "0x0000000000000000000000000000000000000000")

	select {}
}
