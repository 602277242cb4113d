package http

import (
	"bytes"
	"fmt"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/ValentinKolb/dCache/rpc/transport"
	"github.com/google/uuid"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"
)

func NewHttpClientTransport() transport.IRPCClientTransport {
	return &httpClientTransport{}
}

// endpoint is one server together with the session the client holds on it
type endpoint struct {
	url     *url.URL
	session string
}

type httpClientTransport struct {
	endpoints  []endpoint
	client     *http.Client
	counter    uint32
	retryCount int
	handshake  transport.HandshakeFunc
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *httpClientTransport) SetHandshake(handshake transport.HandshakeFunc) {
	t.handshake = handshake
}

func (t *httpClientTransport) Connect(config common.ClientConfig) error {
	if len(config.Endpoints) == 0 {
		return fmt.Errorf("no endpoints provided")
	}

	endpoints := make([]endpoint, len(config.Endpoints))
	for i, server := range config.Endpoints {
		parsedURL, err := url.Parse(server)
		if err != nil {
			return err
		}
		endpoints[i] = endpoint{url: parsedURL, session: uuid.NewString()}
	}

	t.client = &http.Client{
		Timeout: time.Duration(config.TimeoutSecond) * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	t.endpoints = endpoints
	t.counter = 0
	t.retryCount = max(config.RetryCount, 1)

	// Bind the session of every endpoint
	if t.handshake != nil {
		for _, ep := range endpoints {
			send := func(cacheID uint64, req []byte) ([][]byte, error) {
				return t.post(ep, cacheID, req)
			}
			if err := t.handshake(send); err != nil {
				return fmt.Errorf("handshake with %s failed: %w", ep.url, err)
			}
		}
	}
	return nil
}

func (t *httpClientTransport) Send(cacheID uint64, req []byte) ([][]byte, error) {
	if t.client == nil {
		return nil, fmt.Errorf("http transport not initialized")
	}

	// Select the next server via round-robin
	idx := atomic.AddUint32(&t.counter, 1) % uint32(len(t.endpoints))

	var err error
	for i := 0; i < t.retryCount; i++ {
		var packets [][]byte
		packets, err = t.post(t.endpoints[idx], cacheID, req)
		if err == nil {
			return packets, nil
		}
	}
	return nil, err
}

func (t *httpClientTransport) Close() error {
	if t.client == nil {
		return nil
	}

	// End the sessions, errors only mean the server is gone already
	for _, ep := range t.endpoints {
		r, err := http.NewRequest(http.MethodDelete, ep.url.JoinPath("session").String(), nil)
		if err != nil {
			continue
		}
		r.Header.Set(SessionHeader, ep.session)
		if resp, err := t.client.Do(r); err == nil {
			resp.Body.Close()
		}
	}

	t.client.CloseIdleConnections()
	t.client = nil
	t.endpoints = nil
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// post sends one request to the endpoint
func (t *httpClientTransport) post(ep endpoint, cacheID uint64, req []byte) ([][]byte, error) {
	requestURL := ep.url.JoinPath(fmt.Sprintf("%d", cacheID)).String()
	httpRequest, err := http.NewRequest(http.MethodPost, requestURL, bytes.NewReader(req))
	if err != nil {
		return nil, err
	}
	httpRequest.Header.Set(SessionHeader, ep.session)

	httpResponse, err := t.client.Do(httpRequest)
	if err != nil {
		return nil, err
	}
	defer httpResponse.Body.Close()

	if httpResponse.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http error: %s", httpResponse.Status)
	}

	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return nil, err
	}
	return transport.DecodePackets(body)
}
