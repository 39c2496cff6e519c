package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkgcore/pkgcore/pkgerr"
)

// GitHubRepo names a single GitHub repository to harvest package archives
// from or publish a catalogue to, via its Releases API.
//
// Adapted from github.Repo (github/github.go in the teacher repository),
// which scraped *.deb assets off GitHub Releases for an apt repository;
// here the same Releases-as-artifact-store idea backs one concrete
// mirror mode for RCC (spec §4.5's MirrorHTTP), fetching ".pkg" archives
// and the repository descriptor/catalogue files instead of .deb files.
type GitHubRepo struct {
	Owner string
	Name  string
	Token string
}

type ghRelease struct {
	ID      int64      `json:"id"`
	TagName string     `json:"tag_name"`
	Assets  []ghAsset  `json:"assets"`
}

type ghAsset struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

func (r GitHubRepo) apiURL(path string) string {
	return fmt.Sprintf("https://api.github.com/repos/%s/%s/%s", r.Owner, r.Name, path)
}

func (r GitHubRepo) fetchRelease(ctx context.Context, tag string) (ghRelease, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.apiURL("releases/tags/"+tag), nil)
	if err != nil {
		return ghRelease{}, pkgerr.New(pkgerr.IO, "fetch: building release request", err)
	}
	if r.Token != "" {
		req.Header.Set("Authorization", "token "+r.Token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return ghRelease{}, pkgerr.New(pkgerr.IO, "fetch: github release lookup", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ghRelease{}, pkgerr.New(pkgerr.IO, fmt.Sprintf("fetch: release %s not found (status %d)", tag, resp.StatusCode), nil)
	}
	var rel ghRelease
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return ghRelease{}, pkgerr.New(pkgerr.Corrupt, "fetch: decoding github release", err)
	}
	return rel, nil
}

// PackageArtifactURLs scans the named release tag and returns the download
// URLs of every ".pkg" archive attached to it, in the order GitHub lists
// them.
func (r GitHubRepo) PackageArtifactURLs(ctx context.Context, tag string) ([]string, error) {
	rel, err := r.fetchRelease(ctx, tag)
	if err != nil {
		return nil, err
	}
	var urls []string
	for _, a := range rel.Assets {
		if strings.HasSuffix(a.Name, ".pkg") {
			urls = append(urls, a.BrowserDownloadURL)
		}
	}
	return urls, nil
}

// PublishCatalogue uploads the RCC descriptor/catalogue file pair
// (filename, content) produced by an rcc build step to the named release,
// overwriting any asset with the same name. Adapted from
// uploadAssetFromReader in github/github.go: same get-release /
// delete-existing-asset / upload sequence, generalized from a single
// fixed asset name to an arbitrary caller-supplied one.
func (r GitHubRepo) PublishCatalogue(ctx context.Context, tag, fileName string, content []byte) error {
	rel, err := r.fetchRelease(ctx, tag)
	if err != nil {
		return err
	}

	for _, a := range rel.Assets {
		if a.Name == fileName {
			delReq, _ := http.NewRequestWithContext(ctx, http.MethodDelete, r.apiURL(fmt.Sprintf("releases/assets/%d", a.ID)), nil)
			delReq.Header.Set("Authorization", "token "+r.Token)
			resp, err := http.DefaultClient.Do(delReq)
			if err == nil {
				resp.Body.Close()
			}
			break
		}
	}

	uploadURL := fmt.Sprintf("https://uploads.github.com/repos/%s/%s/releases/%d/assets?name=%s",
		r.Owner, r.Name, rel.ID, filepath.Base(fileName))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(content))
	if err != nil {
		return pkgerr.New(pkgerr.IO, "fetch: building upload request", err)
	}
	req.Header.Set("Authorization", "token "+r.Token)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = int64(len(content))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return pkgerr.New(pkgerr.IO, "fetch: uploading asset", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return pkgerr.New(pkgerr.IO, fmt.Sprintf("fetch: upload failed: %s %s", resp.Status, body), nil)
	}
	return nil
}

// Provider returns a Provider that fetches URLs over HTTP with this
// repository's token, for use as an RCC mirror backend (MirrorHTTP). URLs
// are used as given; bare asset names are not resolved against a release.
func (r GitHubRepo) Provider() Provider {
	return &githubProvider{repo: r}
}

type githubProvider struct{ repo GitHubRepo }

func (g *githubProvider) Open(ctx context.Context, url string, ifModifiedSince time.Time) (io.ReadCloser, bool, error) {
	p := &HTTPProvider{Token: g.repo.Token}
	return p.Open(ctx, url, ifModifiedSince)
}
