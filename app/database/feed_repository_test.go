package database

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &DB{db}, mock
}

func feedRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "url", "canonical_id", "active", "status",
		"etag", "last_modified", "content_hash", "http_status", "exception", "num_retries", "parsed_at",
		"pub_date", "next_poll_at",
		"title", "description", "link", "owner", "cover_url", "language", "explicit",
		"keywords", "extracted_text", "num_episodes",
		"created_at", "updated_at",
	})
}

func addFeedRow(rows *sqlmock.Rows, id int64, url string, status FeedStatus) *sqlmock.Rows {
	now := time.Now()
	return rows.AddRow(
		id, url, nil, true, status,
		"", nil, "", nil, "", 0, nil,
		nil, nil,
		"", "", "", "", "", "en", false,
		"", "", 0,
		now, now,
	)
}

func TestGetFeed(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewFeedRepository(db)

	mock.ExpectQuery("(?s)SELECT.+FROM feeds").
		WithArgs(int64(1)).
		WillReturnRows(addFeedRow(feedRows(), 1, "https://example.com/rss", FeedStatusSuccess))

	feed, err := repo.GetFeed(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, feed)
	assert.Equal(t, int64(1), feed.ID)
	assert.Equal(t, "https://example.com/rss", feed.URL)
	assert.Equal(t, FeedStatusSuccess, feed.Status)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetFeedNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewFeedRepository(db)

	mock.ExpectQuery("(?s)SELECT.+FROM feeds").
		WithArgs(int64(99)).
		WillReturnRows(feedRows())

	feed, err := repo.GetFeed(context.Background(), 99)
	require.NoError(t, err)
	assert.Nil(t, feed)
}

func TestCreateFeedIsIdempotent(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewFeedRepository(db)

	mock.ExpectQuery("(?s)INSERT INTO feeds.+ON CONFLICT \\(url\\) DO UPDATE").
		WithArgs("https://example.com/rss").
		WillReturnRows(addFeedRow(feedRows(), 1, "https://example.com/rss", ""))

	feed, err := repo.CreateFeed(context.Background(), "https://example.com/rss")
	require.NoError(t, err)
	require.NotNil(t, feed)
	assert.Equal(t, int64(1), feed.ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListDueFeedsSelectsOnlyScheduled(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewFeedRepository(db)

	rows := feedRows()
	addFeedRow(rows, 1, "https://a.example.com/rss", FeedStatusSuccess)
	addFeedRow(rows, 2, "https://b.example.com/rss", FeedStatusUnavailable)

	mock.ExpectQuery("(?s)SELECT.+FROM feeds\\s+WHERE active\\s+AND next_poll_at IS NOT NULL\\s+AND next_poll_at <= NOW").
		WithArgs(100).
		WillReturnRows(rows)

	feeds, err := repo.ListDueFeeds(context.Background(), 100)
	require.NoError(t, err)
	assert.Len(t, feeds, 2)
	assert.Equal(t, int64(1), feeds[0].ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkDuplicate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewFeedRepository(db)

	mock.ExpectExec("UPDATE feeds").
		WithArgs(int64(3), int64(1), string(FeedStatusDuplicate)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkDuplicate(context.Background(), 3, 1)
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordSuccessSyncsCategories(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewFeedRepository(db)

	next := time.Now().Add(24 * time.Hour)
	pub := time.Now().Add(-time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE feeds").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM feed_categories").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO feed_categories").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := repo.RecordSuccess(context.Background(), 1, FeedSuccess{
		URL:         "https://example.com/rss",
		ContentHash: "abc",
		HTTPStatus:  200,
		Active:      true,
		PubDate:     &pub,
		NextPollAt:  &next,
		Title:       "Test Podcast",
		CategoryIDs: []int64{1, 2},
	})
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordSuccessClearsCanonicalReference(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewFeedRepository(db)

	// A former duplicate whose redirect disappeared must not stay pointed at
	// its old canonical owner once it succeeds on its own again.
	mock.ExpectBegin()
	mock.ExpectExec("(?s)UPDATE feeds\\s+SET url = \\$2,\\s+canonical_id = NULL").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM feed_categories").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := repo.RecordSuccess(context.Background(), 3, FeedSuccess{
		URL:        "https://example.com/rss",
		HTTPStatus: 200,
		Active:     true,
	})
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordSuccessWithoutCategoriesSkipsInsert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewFeedRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE feeds").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM feed_categories").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := repo.RecordSuccess(context.Background(), 1, FeedSuccess{
		URL:        "https://example.com/rss",
		HTTPStatus: 200,
		Active:     true,
	})
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFailure(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewFeedRepository(db)

	code := 410
	mock.ExpectExec("UPDATE feeds").
		WithArgs(int64(1), string(FeedStatusDiscontinued), &code, "feed gone", false, 0, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.RecordFailure(context.Background(), 1, FeedFailure{
		Status:     FeedStatusDiscontinued,
		HTTPStatus: &code,
		Exception:  "feed gone",
		Active:     false,
	})
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}
