package dropbox

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/deployrc/pkg/errdefs"
	"github.com/walteh/deployrc/pkg/remote"
)

// 🔧 MockFiles is a mock implementation of Files
type MockFiles struct {
	mock.Mock
}

func (m *MockFiles) ListFolder(arg *files.ListFolderArg) (*files.ListFolderResult, error) {
	args := m.Called(arg.Path)
	res, _ := args.Get(0).(*files.ListFolderResult)
	return res, args.Error(1)
}

func (m *MockFiles) ListFolderContinue(arg *files.ListFolderContinueArg) (*files.ListFolderResult, error) {
	args := m.Called(arg.Cursor)
	res, _ := args.Get(0).(*files.ListFolderResult)
	return res, args.Error(1)
}

func (m *MockFiles) Download(arg *files.DownloadArg) (*files.FileMetadata, io.ReadCloser, error) {
	args := m.Called(arg.Path)
	rc, _ := args.Get(0).(io.ReadCloser)
	return &files.FileMetadata{}, rc, args.Error(1)
}

func (m *MockFiles) Upload(arg *files.UploadArg, content io.Reader) (*files.FileMetadata, error) {
	data, _ := io.ReadAll(content)
	args := m.Called(arg.Path, arg.Mode.Tag, string(data))
	return &files.FileMetadata{}, args.Error(0)
}

func (m *MockFiles) DeleteV2(arg *files.DeleteArg) (*files.DeleteResult, error) {
	args := m.Called(arg.Path)
	return &files.DeleteResult{}, args.Error(0)
}

func file(name string, size uint64) *files.FileMetadata {
	md := &files.FileMetadata{Size: size, ServerModified: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	md.Name = name
	return md
}

func folder(name string) *files.FolderMetadata {
	md := &files.FolderMetadata{}
	md.Name = name
	return md
}

func TestToDropboxPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "/", want: ""},
		{in: "a/b", want: "/a/b"},
		{in: "/a/b/", want: "/a/b"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, toDropboxPath(tt.in))
			assert.Equal(t, tt.want, toDropboxPath(toDropboxPath(tt.in)), "idempotent")
		})
	}
}

func TestListDirectoryFollowsCursor(t *testing.T) {
	api := &MockFiles{}
	api.On("ListFolder", "").Return(&files.ListFolderResult{
		Entries: []files.IsMetadata{folder("photos"), file("a.txt", 3)},
		Cursor:  "c1",
		HasMore: true,
	}, nil).Once()
	api.On("ListFolderContinue", "c1").Return(&files.ListFolderResult{
		Entries: []files.IsMetadata{file("b.txt", 4)},
		Cursor:  "c2",
		HasMore: false,
	}, nil).Once()
	api.On("Download", "/a.txt").Return(io.NopCloser(strings.NewReader("abc")), nil)

	c := NewFromFiles(api)
	entries, err := c.ListDirectory(context.Background(), "/")
	require.NoError(t, err)

	listing := remote.NewListing("", entries)
	require.Len(t, listing.Dirs, 1)
	require.Len(t, listing.Files, 2)
	assert.Equal(t, int64(3), listing.Files[0].Size)

	data, err := listing.Files[0].Download(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
	api.AssertExpectations(t)
}

func TestUploadOverwrites(t *testing.T) {
	api := &MockFiles{}
	api.On("Upload", "/site/index.html", files.WriteModeOverwrite, "<html>").Return(nil).Once()

	c := NewFromFiles(api)
	require.NoError(t, c.UploadFile(context.Background(), "site/index.html", []byte("<html>")))
	api.AssertExpectations(t)
}

func TestDownloadNotFound(t *testing.T) {
	api := &MockFiles{}
	api.On("Download", "/nope").Return(nil, errors.New("path/not_found/."))

	c := NewFromFiles(api)
	_, err := c.DownloadFile(context.Background(), "nope")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestRemoveFolder(t *testing.T) {
	ctx := context.Background()
	api := &MockFiles{}
	api.On("DeleteV2", "/A").Return(nil).Once()
	api.On("DeleteV2", "/gone").Return(errors.New("path_lookup/not_found/"))

	c := NewFromFiles(api)

	ok, err := c.RemoveFolder(ctx, "/")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.RemoveFolder(ctx, "A/")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.RemoveFolder(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, ok)

	api.AssertNumberOfCalls(t, "DeleteV2", 2)
	api.AssertNotCalled(t, "ListFolder", mock.Anything)
}
