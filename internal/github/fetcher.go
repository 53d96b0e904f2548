package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strings"

	"github.com/google/go-github/v81/github"
)

// DefaultExtensions are the file types imported when none are given.
var DefaultExtensions = []string{".md", ".txt", ".html"}

// FetchedDoc represents a document fetched from GitHub
type FetchedDoc struct {
	Path    string // Relative path within the base directory
	Content []byte
	SHA     string // File's Git blob SHA
	URL     string // GitHub HTML URL
}

// Source identifies the repository directory to import.
type Source struct {
	Owner      string
	Repo       string
	BasePath   string
	Ref        string   // Branch, tag or SHA; empty uses the default branch
	Extensions []string // Lowercase, with dot; empty uses DefaultExtensions
}

// Fetcher handles fetching documents from GitHub repositories
type Fetcher struct {
	client *Client
	src    Source
}

// NewFetcher creates a new document fetcher
func NewFetcher(client *Client, src Source) *Fetcher {
	if len(src.Extensions) == 0 {
		src.Extensions = DefaultExtensions
	}
	return &Fetcher{client: client, src: src}
}

func (f *Fetcher) contentOptions() *github.RepositoryContentGetOptions {
	if f.src.Ref == "" {
		return nil
	}
	return &github.RepositoryContentGetOptions{Ref: f.src.Ref}
}

func (f *Fetcher) wanted(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range f.src.Extensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// ListDocs recursively lists all matching files in the repository directory
func (f *Fetcher) ListDocs(ctx context.Context) ([]string, error) {
	return f.listDocsRecursive(ctx, f.src.BasePath, "")
}

func (f *Fetcher) listDocsRecursive(ctx context.Context, fullPath, relativePath string) ([]string, error) {
	var docs []string

	_, dirContents, _, err := f.client.Repositories.GetContents(
		ctx,
		f.src.Owner,
		f.src.Repo,
		fullPath,
		f.contentOptions(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get contents of %s: %w", fullPath, err)
	}

	for _, item := range dirContents {
		if item.Type == nil || item.Name == nil {
			continue
		}

		itemRelPath := path.Join(relativePath, *item.Name)

		switch *item.Type {
		case "file":
			if f.wanted(*item.Name) {
				docs = append(docs, itemRelPath)
			}

		case "dir":
			itemFullPath := path.Join(fullPath, *item.Name)
			subDocs, err := f.listDocsRecursive(ctx, itemFullPath, itemRelPath)
			if err != nil {
				return nil, err
			}
			docs = append(docs, subDocs...)
		}
	}

	return docs, nil
}

// FetchDoc fetches the content of a specific file
func (f *Fetcher) FetchDoc(ctx context.Context, relativePath string) (*FetchedDoc, error) {
	fullPath := path.Join(f.src.BasePath, relativePath)

	fileContent, _, _, err := f.client.Repositories.GetContents(
		ctx,
		f.src.Owner,
		f.src.Repo,
		fullPath,
		f.contentOptions(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get content of %s: %w", fullPath, err)
	}

	if fileContent == nil || fileContent.Content == nil {
		return nil, fmt.Errorf("no file content returned for %s", fullPath)
	}

	content, err := base64.StdEncoding.DecodeString(*fileContent.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to decode content of %s: %w", fullPath, err)
	}

	return &FetchedDoc{
		Path:    relativePath,
		Content: content,
		SHA:     fileContent.GetSHA(),
		URL:     fileContent.GetHTMLURL(),
	}, nil
}

// GetLatestCommitSHA retrieves the SHA of the most recent commit affecting the base directory
func (f *Fetcher) GetLatestCommitSHA(ctx context.Context) (string, error) {
	commits, _, err := f.client.Repositories.ListCommits(
		ctx,
		f.src.Owner,
		f.src.Repo,
		&github.CommitsListOptions{
			SHA:  f.src.Ref,
			Path: f.src.BasePath,
			ListOptions: github.ListOptions{
				PerPage: 1,
			},
		},
	)
	if err != nil {
		return "", fmt.Errorf("failed to get latest commit: %w", err)
	}

	if len(commits) == 0 {
		return "", fmt.Errorf("no commits found for path %s", f.src.BasePath)
	}

	if commits[0].SHA == nil {
		return "", fmt.Errorf("commit SHA is nil")
	}

	return *commits[0].SHA, nil
}
