// Package twitter implements the platform contract over the X API v2.
package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ilikepancakes-ink/twittwebot/common/logger"
	"github.com/ilikepancakes-ink/twittwebot/internal/gate"
	"github.com/ilikepancakes-ink/twittwebot/internal/metrics"
	"github.com/ilikepancakes-ink/twittwebot/internal/model"
	"github.com/ilikepancakes-ink/twittwebot/internal/platform"
)

const (
	DefaultBaseURL = "https://api.twitter.com"

	tweetFields = "created_at,public_metrics,lang,referenced_tweets,author_id,conversation_id"
	userFields  = "username"

	// Applied when a 429 response carries no usable reset header.
	defaultRetryAfter = time.Minute
)

type Config struct {
	BaseURL     string
	BearerToken string
	Timeout     time.Duration
	Metrics     *metrics.Metrics
}

// Client talks to the X API v2 with a static bearer token. The
// authenticated account is resolved once and cached; id-scoped endpoints
// (mentions, likes, retweets) reuse it.
type Client struct {
	httpClient *http.Client
	baseURL    string
	bearer     string
	metrics    *metrics.Metrics

	mu   sync.Mutex
	self *model.Account
}

var _ platform.Client = (*Client)(nil)

func NewClient(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		bearer:     cfg.BearerToken,
		metrics:    cfg.Metrics,
	}
}

type apiUser struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

type apiTweet struct {
	ID             string    `json:"id"`
	Text           string    `json:"text"`
	AuthorID       string    `json:"author_id"`
	ConversationID string    `json:"conversation_id"`
	CreatedAt      time.Time `json:"created_at"`
	Lang           string    `json:"lang"`
	PublicMetrics  struct {
		LikeCount    int `json:"like_count"`
		RetweetCount int `json:"retweet_count"`
		ReplyCount   int `json:"reply_count"`
	} `json:"public_metrics"`
	ReferencedTweets []struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"referenced_tweets"`
}

type tweetListResponse struct {
	Data     []apiTweet `json:"data"`
	Includes struct {
		Users []apiUser `json:"users"`
	} `json:"includes"`
	Meta struct {
		NewestID    string `json:"newest_id"`
		ResultCount int    `json:"result_count"`
	} `json:"meta"`
}

func (c *Client) Me(ctx context.Context) (model.Account, error) {
	c.mu.Lock()
	if c.self != nil {
		account := *c.self
		c.mu.Unlock()
		return account, nil
	}
	c.mu.Unlock()

	var resp struct {
		Data apiUser `json:"data"`
	}
	if err := c.get(ctx, "users_me", "/2/users/me", nil, &resp); err != nil {
		return model.Account{}, err
	}
	account := model.Account{ID: resp.Data.ID, Username: resp.Data.Username}

	c.mu.Lock()
	c.self = &account
	c.mu.Unlock()
	return account, nil
}

func (c *Client) RecentPosts(ctx context.Context, username string, limit int) ([]model.Post, error) {
	var user struct {
		Data apiUser `json:"data"`
	}
	if err := c.get(ctx, "user_by_username", "/2/users/by/username/"+url.PathEscape(username), nil, &user); err != nil {
		return nil, fmt.Errorf("resolve user %s: %w", username, err)
	}

	query := url.Values{}
	query.Set("max_results", strconv.Itoa(clamp(limit, 5, 100)))
	query.Set("tweet.fields", tweetFields)
	query.Set("expansions", "author_id")
	query.Set("user.fields", userFields)

	var resp tweetListResponse
	if err := c.get(ctx, "user_tweets", "/2/users/"+user.Data.ID+"/tweets", query, &resp); err != nil {
		return nil, fmt.Errorf("recent posts of %s: %w", username, err)
	}
	return mapTweets(resp), nil
}

func (c *Client) SearchPosts(ctx context.Context, keywords []string, language string, limit int) ([]model.Post, error) {
	query := url.Values{}
	query.Set("query", buildSearchQuery(keywords, language))
	query.Set("max_results", strconv.Itoa(clamp(limit, 10, 100)))
	query.Set("tweet.fields", tweetFields)
	query.Set("expansions", "author_id")
	query.Set("user.fields", userFields)

	var resp tweetListResponse
	if err := c.get(ctx, "search_recent", "/2/tweets/search/recent", query, &resp); err != nil {
		return nil, fmt.Errorf("search posts: %w", err)
	}
	return mapTweets(resp), nil
}

func (c *Client) MentionsSince(ctx context.Context, cursor string, limit int) ([]model.Post, string, error) {
	self, err := c.Me(ctx)
	if err != nil {
		return nil, "", err
	}

	query := url.Values{}
	query.Set("max_results", strconv.Itoa(clamp(limit, 5, 100)))
	query.Set("tweet.fields", tweetFields)
	query.Set("expansions", "author_id")
	query.Set("user.fields", userFields)
	if cursor != "" {
		query.Set("since_id", cursor)
	}

	var resp tweetListResponse
	if err := c.get(ctx, "user_mentions", "/2/users/"+self.ID+"/mentions", query, &resp); err != nil {
		return nil, "", fmt.Errorf("fetch mentions: %w", err)
	}

	next := cursor
	if resp.Meta.NewestID != "" {
		next = resp.Meta.NewestID
	}
	return mapTweets(resp), next, nil
}

func (c *Client) ThreadRoot(ctx context.Context, postID string) (string, error) {
	query := url.Values{}
	query.Set("tweet.fields", "conversation_id")

	var resp struct {
		Data apiTweet `json:"data"`
	}
	if err := c.get(ctx, "tweet_lookup", "/2/tweets/"+url.PathEscape(postID), query, &resp); err != nil {
		return "", fmt.Errorf("thread root of %s: %w", postID, err)
	}
	if resp.Data.ConversationID == "" {
		return postID, nil
	}
	return resp.Data.ConversationID, nil
}

type createTweetRequest struct {
	Text  string    `json:"text"`
	Reply *replyRef `json:"reply,omitempty"`
}

type replyRef struct {
	InReplyToTweetID string `json:"in_reply_to_tweet_id"`
}

func (c *Client) CreatePost(ctx context.Context, text string) (model.Post, error) {
	return c.createTweet(ctx, createTweetRequest{Text: text})
}

func (c *Client) Reply(ctx context.Context, parentID, text string) (model.Post, error) {
	return c.createTweet(ctx, createTweetRequest{
		Text:  text,
		Reply: &replyRef{InReplyToTweetID: parentID},
	})
}

func (c *Client) createTweet(ctx context.Context, body createTweetRequest) (model.Post, error) {
	var resp struct {
		Data struct {
			ID   string `json:"id"`
			Text string `json:"text"`
		} `json:"data"`
	}
	if err := c.post(ctx, "create_tweet", "/2/tweets", body, &resp); err != nil {
		return model.Post{}, fmt.Errorf("create tweet: %w", err)
	}

	post := model.Post{
		ID:         resp.Data.ID,
		Text:       resp.Data.Text,
		CreatedAt:  time.Now().UTC(),
		IsOriginal: body.Reply == nil,
	}
	c.mu.Lock()
	if c.self != nil {
		post.AuthorID = c.self.ID
		post.AuthorUsername = c.self.Username
	}
	c.mu.Unlock()
	return post, nil
}

func (c *Client) Like(ctx context.Context, postID string) error {
	self, err := c.Me(ctx)
	if err != nil {
		return err
	}
	body := map[string]string{"tweet_id": postID}
	if err := c.post(ctx, "like", "/2/users/"+self.ID+"/likes", body, nil); err != nil {
		return fmt.Errorf("like %s: %w", postID, err)
	}
	return nil
}

func (c *Client) Retweet(ctx context.Context, postID string) error {
	self, err := c.Me(ctx)
	if err != nil {
		return err
	}
	body := map[string]string{"tweet_id": postID}
	if err := c.post(ctx, "retweet", "/2/users/"+self.ID+"/retweets", body, nil); err != nil {
		return fmt.Errorf("retweet %s: %w", postID, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, op, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return gate.Permanent(err)
	}
	return c.do(op, req, out)
}

func (c *Client) post(ctx context.Context, op, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return gate.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return gate.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(op, req, out)
}

func (c *Client) do(op string, req *http.Request, out any) (err error) {
	defer func() { c.metrics.PlatformCall(op, resultLabel(err)) }()

	req.Header.Set("Authorization", "Bearer "+c.bearer)

	resp, herr := c.httpClient.Do(req)
	if herr != nil {
		return gate.Transient(herr)
	}
	defer resp.Body.Close()

	raw, rerr := io.ReadAll(resp.Body)
	if rerr != nil {
		return gate.Transient(fmt.Errorf("read response: %w", rerr))
	}

	if resp.StatusCode >= 400 {
		return classifyStatus(resp, raw)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if uerr := json.Unmarshal(raw, out); uerr != nil {
		return gate.Permanent(fmt.Errorf("decode response: %w", uerr))
	}
	return nil
}

func resultLabel(err error) string {
	if err == nil {
		return metrics.ResultOK
	}
	switch gate.Classify(err) {
	case gate.KindRateLimited:
		return metrics.ResultRateLimited
	case gate.KindPermanent:
		return metrics.ResultPermanent
	default:
		return metrics.ResultTransient
	}
}

func classifyStatus(resp *http.Response, body []byte) error {
	cause := fmt.Errorf("%s: %s", resp.Status, logger.Truncate(string(body), 200))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return gate.RateLimited(cause, retryAfterFrom(resp.Header))
	case resp.StatusCode >= 500:
		return gate.Transient(cause)
	default:
		return gate.Permanent(cause)
	}
}

// retryAfterFrom derives a cooldown from the x-rate-limit-reset epoch
// header, falling back to a fixed default when it is absent or in the past.
func retryAfterFrom(header http.Header) time.Duration {
	reset := header.Get("x-rate-limit-reset")
	if reset == "" {
		return defaultRetryAfter
	}
	epoch, err := strconv.ParseInt(reset, 10, 64)
	if err != nil {
		return defaultRetryAfter
	}
	wait := time.Until(time.Unix(epoch, 0))
	if wait <= 0 {
		return defaultRetryAfter
	}
	return wait
}

func buildSearchQuery(keywords []string, language string) string {
	quoted := make([]string, len(keywords))
	for i, kw := range keywords {
		if strings.ContainsRune(kw, ' ') {
			quoted[i] = `"` + kw + `"`
		} else {
			quoted[i] = kw
		}
	}
	query := strings.Join(quoted, " OR ")
	if len(quoted) > 1 {
		query = "(" + query + ")"
	}
	if language != "" {
		query += " lang:" + language
	}
	return query
}

func mapTweets(resp tweetListResponse) []model.Post {
	usernames := make(map[string]string, len(resp.Includes.Users))
	for _, u := range resp.Includes.Users {
		usernames[u.ID] = u.Username
	}

	posts := make([]model.Post, 0, len(resp.Data))
	for _, t := range resp.Data {
		posts = append(posts, model.Post{
			ID:             t.ID,
			AuthorID:       t.AuthorID,
			AuthorUsername: usernames[t.AuthorID],
			Text:           t.Text,
			CreatedAt:      t.CreatedAt,
			LikeCount:      t.PublicMetrics.LikeCount,
			IsOriginal:     isOriginal(t),
			Language:       t.Lang,
		})
	}
	return posts
}

// isOriginal reports whether the tweet is neither a retweet nor a reply.
// Quote tweets carry original text and stay eligible.
func isOriginal(t apiTweet) bool {
	for _, ref := range t.ReferencedTweets {
		if ref.Type == "retweeted" || ref.Type == "replied_to" {
			return false
		}
	}
	return true
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
