package pterodactyl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/stingray/zookeeper/internal/config"
	"github.com/stingray/zookeeper/internal/model"
)

const (
	acceptHeader = "application/vnd.pterodactyl.v1+json"
	pageSize     = 100
)

// Client implements the Pterodactyl application API.
type Client struct {
	baseURL    *url.URL
	token      string
	userAgent  string
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient creates a panel API client.
func NewClient(cfg config.PanelConfig, logger *slog.Logger) (*Client, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid panel URL: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("invalid panel URL %q: missing host", cfg.BaseURL)
	}

	return &Client{
		baseURL:   parsed,
		token:     cfg.Token,
		userAgent: "zookeeper",
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		log: logger,
	}, nil
}

// ListLocations returns the first page of locations with their nodes.
func (client *Client) ListLocations(ctx context.Context) ([]Location, error) {
	endpoint := client.applicationURL("locations")
	endpoint.RawQuery = url.Values{"include": {"nodes"}}.Encode()

	var response listResponse[locationAttributes]
	if err := client.get(ctx, endpoint, &response); err != nil {
		return nil, err
	}

	locations := make([]Location, 0, len(response.Data))
	for _, item := range response.Data {
		location := Location{
			ID:    item.Attributes.ID,
			Short: item.Attributes.Short,
			Long:  item.Attributes.Long,
		}
		if item.Attributes.Relationships.Nodes != nil {
			for _, node := range item.Attributes.Relationships.Nodes.Data {
				location.Nodes = append(location.Nodes, Node{
					ID:   node.Attributes.ID,
					Name: node.Attributes.Name,
					FQDN: node.Attributes.FQDN,
				})
			}
		}
		locations = append(locations, location)
	}
	return locations, nil
}

// GetEgg returns an egg with the default values of its variables.
func (client *Client) GetEgg(ctx context.Context, nestID, eggID int) (Egg, error) {
	endpoint := client.applicationURL("nests", strconv.Itoa(nestID), "eggs", strconv.Itoa(eggID))
	endpoint.RawQuery = url.Values{"include": {"variables"}}.Encode()

	var response object[eggAttributes]
	if err := client.get(ctx, endpoint, &response); err != nil {
		return Egg{}, err
	}

	attributes := response.Attributes
	egg := Egg{
		ID:          attributes.ID,
		NestID:      attributes.Nest,
		DockerImage: attributes.DockerImage,
		Startup:     attributes.Startup,
		Environment: map[string]string{},
	}
	if egg.DockerImage == "" {
		egg.DockerImage = firstImage(attributes.DockerImages)
	}
	if attributes.Relationships.Variables != nil {
		for _, variable := range attributes.Relationships.Variables.Data {
			if variable.Attributes.EnvVariable == "" {
				continue
			}
			egg.Environment[variable.Attributes.EnvVariable] = variable.Attributes.DefaultValue
		}
	}
	return egg, nil
}

// CreateServer creates a server and returns its identity and network keys.
func (client *Client) CreateServer(ctx context.Context, request CreateServerRequest) (model.Server, error) {
	if request.Environment == nil {
		request.Environment = map[string]string{}
	}
	if request.Deploy.PortRange == nil {
		request.Deploy.PortRange = []string{}
	}
	body, err := json.Marshal(request)
	if err != nil {
		return model.Server{}, err
	}

	endpoint := client.applicationURL("servers")
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewBuffer(body))
	if err != nil {
		return model.Server{}, err
	}
	client.addHeaders(httpRequest)
	httpRequest.Header.Set("Content-Type", "application/json")

	var response object[serverAttributes]
	if err := client.do(httpRequest, &response); err != nil {
		return model.Server{}, err
	}
	return parseServer(response.Attributes)
}

// ListNodeAllocations returns every allocation of a node across all pages.
func (client *Client) ListNodeAllocations(ctx context.Context, nodeID int) ([]model.Allocation, error) {
	allocations := []model.Allocation{}
	for page, err := range client.NodeAllocationPages(ctx, nodeID) {
		if err != nil {
			return nil, err
		}
		allocations = append(allocations, page...)
	}
	return allocations, nil
}

// NodeAllocationPages yields the allocations of a node one page at a time.
// Iteration stops after the last page or the first error.
func (client *Client) NodeAllocationPages(ctx context.Context, nodeID int) iter.Seq2[[]model.Allocation, error] {
	return func(yield func([]model.Allocation, error) bool) {
		for page := 1; ; page++ {
			endpoint := client.applicationURL("nodes", strconv.Itoa(nodeID), "allocations")
			endpoint.RawQuery = url.Values{
				"page":     {strconv.Itoa(page)},
				"per_page": {strconv.Itoa(pageSize)},
			}.Encode()

			var response listResponse[allocationAttributes]
			if err := client.get(ctx, endpoint, &response); err != nil {
				yield(nil, fmt.Errorf("list allocations of node %d page %d: %w", nodeID, page, err))
				return
			}

			allocations := make([]model.Allocation, 0, len(response.Data))
			for _, item := range response.Data {
				allocations = append(allocations, item.Attributes.toModel())
			}
			if !yield(allocations, nil) {
				return
			}

			if len(response.Data) == 0 || response.Meta.Pagination.lastPage(page) {
				return
			}
		}
	}
}

func parseServer(attributes serverAttributes) (model.Server, error) {
	if attributes.UUID == nil {
		return model.Server{}, fmt.Errorf("%w: server attributes missing uuid", ErrMalformedResponse)
	}
	if attributes.Allocation == nil {
		return model.Server{}, fmt.Errorf("%w: server attributes missing allocation", ErrMalformedResponse)
	}
	if attributes.Node == nil {
		return model.Server{}, fmt.Errorf("%w: server attributes missing node", ErrMalformedResponse)
	}
	id, err := model.ParseServerUUID(*attributes.UUID)
	if err != nil {
		return model.Server{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return model.Server{
		UUID:         id,
		AllocationID: *attributes.Allocation,
		NodeID:       *attributes.Node,
	}, nil
}

// firstImage picks a default from docker_images, which newer panels send as a
// label to image map and older ones as a list.
func firstImage(raw json.RawMessage) string {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) > 0 {
			return list[0]
		}
		return ""
	}
	var labelled map[string]string
	if err := json.Unmarshal(raw, &labelled); err != nil || len(labelled) == 0 {
		return ""
	}
	labels := make([]string, 0, len(labelled))
	for label := range labelled {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labelled[labels[0]]
}

func (client *Client) addHeaders(request *http.Request) {
	request.Header.Set("Authorization", "Bearer "+client.token)
	request.Header.Set("Accept", acceptHeader)
	request.Header.Set("User-Agent", client.userAgent)
}

func (client *Client) applicationURL(elements ...string) *url.URL {
	base := *client.baseURL
	base.Path = path.Join(append([]string{"/", base.Path, "api", "application"}, elements...)...)
	return &base
}

func (client *Client) get(ctx context.Context, endpoint *url.URL, response any) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return err
	}
	client.addHeaders(request)
	return client.do(request, response)
}

func (client *Client) do(request *http.Request, response any) error {
	client.log.Debug("panel request", "method", request.Method, "url", request.URL.String())

	resp, err := client.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var payload errorResponse
		summary := ""
		if err := json.Unmarshal(body, &payload); err == nil {
			summary = payload.ErrorSummary()
		}
		if summary == "" {
			summary = strings.TrimSpace(string(body))
		}
		return fmt.Errorf("panel request failed with status %s: %s", resp.Status, summary)
	}

	if len(body) == 0 {
		return fmt.Errorf("%w: empty body with status %s", ErrMalformedResponse, resp.Status)
	}
	if err := json.Unmarshal(body, response); err != nil {
		return fmt.Errorf("%w: non-JSON body with status %s: %v", ErrMalformedResponse, resp.Status, err)
	}
	return nil
}

type object[T any] struct {
	Object     string `json:"object"`
	Attributes T      `json:"attributes"`
}

type listResponse[T any] struct {
	Object string      `json:"object"`
	Data   []object[T] `json:"data"`
	Meta   struct {
		Pagination pagination `json:"pagination"`
	} `json:"meta"`
}

type pagination struct {
	Total       int `json:"total"`
	Count       int `json:"count"`
	PerPage     int `json:"per_page"`
	CurrentPage int `json:"current_page"`
	TotalPages  int `json:"total_pages"`
}

func (p pagination) lastPage(requested int) bool {
	current := p.CurrentPage
	if current == 0 {
		current = requested
	}
	return current >= p.TotalPages
}

type errorResponse struct {
	Errors []struct {
		Code   string `json:"code"`
		Status string `json:"status"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (response errorResponse) ErrorSummary() string {
	messages := make([]string, 0, len(response.Errors))
	for _, item := range response.Errors {
		message := strings.TrimSpace(item.Detail)
		if message == "" {
			message = item.Code
		}
		if message != "" {
			messages = append(messages, message)
		}
	}
	return strings.Join(messages, "; ")
}

type locationAttributes struct {
	ID            int    `json:"id"`
	Short         string `json:"short"`
	Long          string `json:"long"`
	Relationships struct {
		Nodes *struct {
			Data []object[nodeAttributes] `json:"data"`
		} `json:"nodes"`
	} `json:"relationships"`
}

type nodeAttributes struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	FQDN string `json:"fqdn"`
}

type eggAttributes struct {
	ID            int               `json:"id"`
	Nest          int               `json:"nest"`
	DockerImage   string            `json:"docker_image"`
	DockerImages  json.RawMessage    `json:"docker_images"`
	Startup       string            `json:"startup"`
	Relationships struct {
		Variables *struct {
			Data []object[eggVariableAttributes] `json:"data"`
		} `json:"variables"`
	} `json:"relationships"`
}

type eggVariableAttributes struct {
	EnvVariable  string `json:"env_variable"`
	DefaultValue string `json:"default_value"`
}

type serverAttributes struct {
	ID         int     `json:"id"`
	UUID       *string `json:"uuid"`
	Identifier string  `json:"identifier"`
	Name       string  `json:"name"`
	Allocation *int    `json:"allocation"`
	Node       *int    `json:"node"`
}

type allocationAttributes struct {
	ID       int     `json:"id"`
	IP       string  `json:"ip"`
	Alias    *string `json:"alias"`
	Port     int     `json:"port"`
	Assigned bool    `json:"assigned"`
}

func (attributes allocationAttributes) toModel() model.Allocation {
	allocation := model.Allocation{
		ID:       attributes.ID,
		IP:       attributes.IP,
		Port:     attributes.Port,
		Assigned: attributes.Assigned,
	}
	if attributes.Alias != nil {
		allocation.Alias = *attributes.Alias
	}
	return allocation
}
