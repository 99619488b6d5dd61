package slack

import (
	"context"
	"io"
	"testing"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/walteh/deployrc/pkg/errdefs"
	"github.com/walteh/deployrc/pkg/remote"
)

// 🔧 MockAPI is a mock implementation of API
type MockAPI struct {
	mock.Mock
}

func (m *MockAPI) GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error) {
	args := m.Called(params.Cursor)
	channels, _ := args.Get(0).([]slack.Channel)
	return channels, args.String(1), args.Error(2)
}

func (m *MockAPI) GetFilesContext(ctx context.Context, params slack.GetFilesParameters) ([]slack.File, *slack.Paging, error) {
	args := m.Called(params.Channel, params.Page)
	files, _ := args.Get(0).([]slack.File)
	paging, _ := args.Get(1).(*slack.Paging)
	return files, paging, args.Error(2)
}

func (m *MockAPI) GetFileContext(ctx context.Context, downloadURL string, writer io.Writer) error {
	args := m.Called(downloadURL)
	_, _ = io.WriteString(writer, "content of "+downloadURL)
	return args.Error(0)
}

func (m *MockAPI) DeleteFileContext(ctx context.Context, fileID string) error {
	return m.Called(fileID).Error(0)
}

func (m *MockAPI) UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error) {
	data, _ := io.ReadAll(params.Reader)
	args := m.Called(params.Channel, params.Filename, params.Title, string(data))
	return &slack.FileSummary{ID: "F1"}, args.Error(0)
}

func channel(id string) slack.Channel {
	var ch slack.Channel
	ch.ID = id
	ch.Created = 1700000000
	return ch
}

func newTestClient(api API) *Client {
	cfg := Config{RequestsPerMinute: 600000}
	_ = cfg.Validate()
	return NewFromAPI(cfg, api)
}

func TestListChannels(t *testing.T) {
	api := &MockAPI{}
	api.On("GetConversationsContext", "").Return([]slack.Channel{channel("C1")}, "next", nil).Once()
	api.On("GetConversationsContext", "next").Return([]slack.Channel{channel("C2")}, "", nil).Once()

	c := newTestClient(api)
	entries, err := c.ListDirectory(context.Background(), "/")
	require.NoError(t, err)
	api.AssertExpectations(t)

	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, remote.TypeDirectory, e.Type)
	}
	assert.Equal(t, "C2", entries[1].Name)
}

func TestListFilesWalksPages(t *testing.T) {
	api := &MockAPI{}
	api.On("GetFilesContext", "C1", 1).Return([]slack.File{{ID: "F1", Name: "a.txt", Size: 3}}, &slack.Paging{Page: 1, Pages: 3}, nil).Once()
	api.On("GetFilesContext", "C1", 2).Return([]slack.File{{ID: "F2", Name: "b.txt"}}, &slack.Paging{Page: 2, Pages: 3}, nil).Once()
	api.On("GetFilesContext", "C1", 3).Return([]slack.File{{ID: "F3", Name: "c.txt", URLPrivateDownload: "https://files/c"}}, &slack.Paging{Page: 3, Pages: 3}, nil).Once()
	api.On("GetFileContext", "https://files/c").Return(nil)

	c := newTestClient(api)
	entries, err := c.ListDirectory(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "C1", entries[0].Path)

	data, err := entries[2].Download(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "content of https://files/c", string(data))
	api.AssertExpectations(t)
}

func TestDownloadPicksNewestMatch(t *testing.T) {
	api := &MockAPI{}
	api.On("GetFilesContext", "C1", 1).Return([]slack.File{
		{ID: "F1", Name: "Report.pdf", Timestamp: 100, URLPrivateDownload: "old"},
		{ID: "F2", Name: "report.pdf", Timestamp: 300, URLPrivateDownload: "new"},
		{ID: "F3", Name: "other.pdf", Timestamp: 500, URLPrivateDownload: "other"},
	}, &slack.Paging{Page: 1, Pages: 1}, nil)
	api.On("GetFileContext", "new").Return(nil)

	c := newTestClient(api)
	data, err := c.DownloadFile(context.Background(), "C1/REPORT.PDF")
	require.NoError(t, err)
	assert.Equal(t, "content of new", string(data))

	_, err = c.DownloadFile(context.Background(), "C1/missing.pdf")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestDeleteByID(t *testing.T) {
	api := &MockAPI{}
	api.On("GetFilesContext", "C1", 1).Return([]slack.File{{ID: "F9", Name: "x"}}, &slack.Paging{Page: 1, Pages: 1}, nil)
	api.On("DeleteFileContext", "F9").Return(nil).Once()

	c := newTestClient(api)
	ok, err := c.DeleteFile(context.Background(), "C1/f9")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.DeleteFile(context.Background(), "C1/nothing")
	require.NoError(t, err)
	assert.False(t, ok)
	api.AssertExpectations(t)
}

func TestUploadFile(t *testing.T) {
	api := &MockAPI{}
	api.On("UploadFileV2Context", "C1", "notes.txt", "notes.txt", "hi").Return(nil).Once()

	c := newTestClient(api)
	require.NoError(t, c.UploadFile(context.Background(), "c1/sub/notes.txt", []byte("hi")))
	api.AssertExpectations(t)

	assert.Error(t, c.UploadFile(context.Background(), "c1/empty.txt", nil))
	assert.Error(t, c.UploadFile(context.Background(), "noname", []byte("x")))
}

func TestRemoveFolder(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		unsupported bool
	}{
		{name: "empty root", path: ""},
		{name: "slash root", path: "/"},
		{name: "channel", path: "C1", unsupported: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &MockAPI{}
			c := newTestClient(api)

			ok, err := c.RemoveFolder(context.Background(), tt.path)
			assert.False(t, ok)
			if tt.unsupported {
				assert.True(t, errdefs.IsUnsupported(err), "channels cannot be removed")
			} else {
				assert.NoError(t, err, "root should be refused quietly")
			}
			api.AssertNotCalled(t, "DeleteFileContext", mock.Anything)
		})
	}
}
