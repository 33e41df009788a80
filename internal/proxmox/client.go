// Package proxmox talks to the Proxmox VE HTTP API. It is the engine's only
// external collaborator: it lists managed objects with their current tags
// and properties, and replaces an object's tag set.
package proxmox

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/proxtag/proxtag/internal/domain"
	"github.com/sethvargo/go-retry"
)

// InventoryClient is the provider interface consumed by the rule engine.
type InventoryClient interface {
	// ListManagedObjects returns a snapshot of every VM and container.
	// enrich names the extra sections to fetch per object ("config", "ha",
	// "replication", "snapshots", "backup"); sections not requested stay
	// nil on the returned snapshots.
	ListManagedObjects(ctx context.Context, enrich []string) ([]*domain.ManagedObject, error)

	// SetTags replaces the object's full tag set.
	SetTags(ctx context.Context, node string, vmid int, vmType string, tags map[string]bool) error
}

// Client talks to a live Proxmox VE cluster using an API token.
type Client struct {
	baseURL string
	token   string // "user@realm!tokenid=uuid"
	http    *http.Client
}

// Ensure Client implements InventoryClient.
var _ InventoryClient = (*Client)(nil)

// New creates a Proxmox API client. baseURL is the API root, e.g.
// "https://pve1:8006/api2/json".
func New(baseURL, token string, insecureTLS bool, timeout time.Duration) *Client {
	transport := http.DefaultTransport
	if insecureTLS {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Transport: transport, Timeout: timeout},
	}
}

// apiError is a non-2xx response from the API.
type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("proxmox api: status %d: %s", e.status, e.body)
}

// do performs one request with retry on transient failures. Network errors
// and 5xx responses are retried with fibonacci backoff; 4xx responses fail
// immediately.
func (c *Client) do(ctx context.Context, method, path string, form url.Values, out any) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(time.Second))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		var body io.Reader
		if form != nil {
			body = strings.NewReader(form.Encode())
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "PVEAPIToken="+c.token)
		if form != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(err)
		}
		if resp.StatusCode >= 500 {
			return retry.RetryableError(&apiError{status: resp.StatusCode, body: strings.TrimSpace(string(data))})
		}
		if resp.StatusCode >= 400 {
			return &apiError{status: resp.StatusCode, body: strings.TrimSpace(string(data))}
		}

		if out != nil {
			var envelope struct {
				Data json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal(data, &envelope); err != nil {
				return fmt.Errorf("decoding response: %w", err)
			}
			if err := json.Unmarshal(envelope.Data, out); err != nil {
				return fmt.Errorf("decoding response data: %w", err)
			}
		}
		return nil
	})
}

// ListManagedObjects lists all VMs and containers from cluster/resources
// and enriches each snapshot with the requested sections.
func (c *Client) ListManagedObjects(ctx context.Context, enrich []string) ([]*domain.ManagedObject, error) {
	var objects []*domain.ManagedObject
	if err := c.do(ctx, http.MethodGet, "/cluster/resources?type=vm", nil, &objects); err != nil {
		return nil, fmt.Errorf("listing cluster resources: %w", err)
	}

	if len(enrich) == 0 {
		return objects, nil
	}

	want := make(map[string]bool, len(enrich))
	for _, section := range enrich {
		want[section] = true
	}

	// Cluster-wide sections are fetched once and joined per object.
	var haResources []map[string]any
	if want["ha"] {
		if err := c.do(ctx, http.MethodGet, "/cluster/ha/resources", nil, &haResources); err != nil {
			log.Printf("proxmox: HA status unavailable: %v", err)
		}
	}
	var backups []map[string]any
	if want["backup"] {
		if err := c.do(ctx, http.MethodGet, "/cluster/backup", nil, &backups); err != nil {
			log.Printf("proxmox: backup status unavailable: %v", err)
		}
	}
	replicationByNode := make(map[string][]map[string]any)

	for _, obj := range objects {
		if want["config"] {
			var config map[string]any
			path := fmt.Sprintf("/nodes/%s/%s/%d/config", obj.Node, obj.Type, obj.VMID)
			if err := c.do(ctx, http.MethodGet, path, nil, &config); err != nil {
				log.Printf("proxmox: config unavailable for VM %d: %v", obj.VMID, err)
				config = map[string]any{}
			}
			obj.Config = config
		}
		if want["ha"] {
			obj.HA = haSection(haResources, obj.VMID)
		}
		if want["replication"] {
			configs, ok := replicationByNode[obj.Node]
			if !ok {
				path := fmt.Sprintf("/nodes/%s/replication", obj.Node)
				if err := c.do(ctx, http.MethodGet, path, nil, &configs); err != nil {
					log.Printf("proxmox: replication status unavailable for node %s: %v", obj.Node, err)
					configs = nil
				}
				replicationByNode[obj.Node] = configs
			}
			obj.Replication = replicationSection(configs, obj.VMID)
		}
		if want["snapshots"] {
			var snapshots []map[string]any
			path := fmt.Sprintf("/nodes/%s/%s/%d/snapshot", obj.Node, obj.Type, obj.VMID)
			if err := c.do(ctx, http.MethodGet, path, nil, &snapshots); err != nil {
				log.Printf("proxmox: snapshots unavailable for VM %d: %v", obj.VMID, err)
				snapshots = nil
			}
			obj.Snapshots = snapshotSection(snapshots)
		}
		if want["backup"] {
			obj.Backup = backupSection(backups, obj.VMID)
		}
	}

	return objects, nil
}

// SetTags replaces the object's tag set via the config endpoint.
func (c *Client) SetTags(ctx context.Context, node string, vmid int, vmType string, tags map[string]bool) error {
	form := url.Values{}
	form.Set("tags", domain.FormatTags(tags))
	path := fmt.Sprintf("/nodes/%s/%s/%d/config", node, vmType, vmid)
	if err := c.do(ctx, http.MethodPut, path, form, nil); err != nil {
		return fmt.Errorf("setting tags on VM %d: %w", vmid, err)
	}
	return nil
}

func haSection(resources []map[string]any, vmid int) map[string]any {
	suffix := fmt.Sprintf(":%d", vmid)
	for _, res := range resources {
		if sid, _ := res["sid"].(string); strings.HasSuffix(sid, suffix) {
			return map[string]any{
				"enabled": true,
				"state":   res["state"],
				"group":   res["group"],
			}
		}
	}
	return map[string]any{"enabled": false}
}

func replicationSection(configs []map[string]any, vmid int) map[string]any {
	var targets []any
	for _, cfg := range configs {
		if guest, ok := toInt(cfg["guest"]); ok && guest == vmid {
			targets = append(targets, cfg["target"])
		}
	}
	return map[string]any{
		"enabled": len(targets) > 0,
		"targets": targets,
	}
}

func snapshotSection(snapshots []map[string]any) map[string]any {
	var names []any
	for _, snap := range snapshots {
		if name, _ := snap["name"].(string); name != "" && name != "current" {
			names = append(names, name)
		}
	}
	return map[string]any{
		"count": len(names),
		"names": names,
	}
}

func backupSection(backups []map[string]any, vmid int) map[string]any {
	var last any
	for _, b := range backups {
		id, ok := toInt(b["vmid"])
		if !ok || id != vmid {
			continue
		}
		if last == nil {
			last = b["starttime"]
			continue
		}
		if fmt.Sprintf("%v", b["starttime"]) > fmt.Sprintf("%v", last) {
			last = b["starttime"]
		}
	}
	return map[string]any{
		"has_backup":  last != nil,
		"last_backup": last,
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		var i int
		if _, err := fmt.Sscanf(n, "%d", &i); err == nil {
			return i, true
		}
	}
	return 0, false
}
