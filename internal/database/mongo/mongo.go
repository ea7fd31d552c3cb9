// internal/database/mongo/mongo.go
package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github-insights/internal/database"
	"github-insights/internal/model"
)

const (
	settingsID = "settings"
	xpConfigID = "xp_configuration"
)

// Store implements database.Querier on MongoDB, one collection per record kind.
type Store struct {
	Client   *mongo.Client
	Database *mongo.Database

	repos        *mongo.Collection
	users        *mongo.Collection
	settings     *mongo.Collection
	metadata     *mongo.Collection
	branches     *mongo.Collection
	commits      *mongo.Collection
	issues       *mongo.Collection
	pullRequests *mongo.Collection
	contributors *mongo.Collection
	releases     *mongo.Collection
	milestones   *mongo.Collection
	activities   *mongo.Collection
	xpEvents     *mongo.Collection
	leaderboards *mongo.Collection
}

var _ database.Querier = (*Store)(nil)

// Connect opens a client for uri and ensures the natural-key indexes exist.
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	db := client.Database(dbName)
	s := &Store{
		Client:       client,
		Database:     db,
		repos:        db.Collection("repos"),
		users:        db.Collection("users"),
		settings:     db.Collection("app_settings"),
		metadata:     db.Collection("repository_metadata"),
		branches:     db.Collection("branches"),
		commits:      db.Collection("commits"),
		issues:       db.Collection("issues"),
		pullRequests: db.Collection("pull_requests"),
		contributors: db.Collection("contributors"),
		releases:     db.Collection("releases"),
		milestones:   db.Collection("milestones"),
		activities:   db.Collection("activities"),
		xpEvents:     db.Collection("xp_events"),
		leaderboards: db.Collection("xp_leaderboards"),
	}

	if err := s.createIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Store) createIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	unique := func(keys ...string) mongo.IndexModel {
		d := bson.D{}
		for _, k := range keys {
			d = append(d, bson.E{Key: k, Value: 1})
		}
		return mongo.IndexModel{Keys: d, Options: options.Index().SetUnique(true)}
	}
	indexes := map[*mongo.Collection][]mongo.IndexModel{
		s.metadata:     {unique("repo_id")},
		s.branches:     {unique("repo_id", "name")},
		s.commits:      {unique("repo_id", "sha"), {Keys: bson.D{{Key: "repo_id", Value: 1}, {Key: "commit_date", Value: -1}}}},
		s.issues:       {unique("repo_id", "number")},
		s.pullRequests: {unique("repo_id", "number")},
		s.contributors: {unique("repo_id", "login")},
		s.releases:     {unique("repo_id", "github_id")},
		s.milestones:   {unique("repo_id", "number")},
		s.activities:   {{Keys: bson.D{{Key: "repo_id", Value: 1}, {Key: "occurred_at", Value: -1}}}},
		s.xpEvents:     {{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: 1}}}, {Keys: bson.D{{Key: "created_at", Value: 1}}}},
	}
	for coll, models := range indexes {
		if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll.Name(), err)
		}
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.Client.Disconnect(ctx)
}

// findOne decodes the single match. A document that no longer decodes is reported as corrupt.
func findOne[T any](ctx context.Context, coll *mongo.Collection, filter any) (T, error) {
	var zero T
	raw, err := coll.FindOne(ctx, filter).Raw()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return zero, database.ErrNotFound
		}
		return zero, err
	}
	var v T
	if err := bson.Unmarshal(raw, &v); err != nil {
		return zero, fmt.Errorf("%w: %v", database.ErrCorrupt, err)
	}
	return v, nil
}

func findAll[T any](ctx context.Context, coll *mongo.Collection, filter any, sort bson.D, limit int) ([]T, error) {
	opts := options.Find()
	if len(sort) > 0 {
		opts.SetSort(sort)
	}
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := []T{}
	for cursor.Next(ctx) {
		var v T
		if err := cursor.Decode(&v); err != nil {
			return nil, fmt.Errorf("%w: %v", database.ErrCorrupt, err)
		}
		out = append(out, v)
	}
	return out, cursor.Err()
}

func replace(ctx context.Context, coll *mongo.Collection, filter any, doc any) error {
	_, err := coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	return err
}

func (s *Store) GetRepo(ctx context.Context, id string) (model.Repo, error) {
	return findOne[model.Repo](ctx, s.repos, bson.M{"_id": id})
}

func (s *Store) ListRepos(ctx context.Context) ([]model.Repo, error) {
	return findAll[model.Repo](ctx, s.repos, bson.M{}, bson.D{{Key: "_id", Value: 1}}, 0)
}

// UpsertRepo registers or replaces a tracked repository.
func (s *Store) UpsertRepo(ctx context.Context, r model.Repo) error {
	return replace(ctx, s.repos, bson.M{"_id": r.ID}, r)
}

func (s *Store) GetUser(ctx context.Context, id string) (model.User, error) {
	return findOne[model.User](ctx, s.users, bson.M{"_id": id})
}

func (s *Store) GetUserByGithubUsername(ctx context.Context, login string) (model.User, error) {
	if login == "" {
		return model.User{}, database.ErrNotFound
	}
	return findOne[model.User](ctx, s.users, bson.M{
		"github_username": bson.Regex{Pattern: "^" + regexp.QuoteMeta(login) + "$", Options: "i"},
	})
}

func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	return findAll[model.User](ctx, s.users, bson.M{}, bson.D{{Key: "_id", Value: 1}}, 0)
}

// UpsertUser registers or replaces a user.
func (s *Store) UpsertUser(ctx context.Context, u model.User) error {
	return replace(ctx, s.users, bson.M{"_id": u.ID}, u)
}

// GetAppSettings returns the settings singleton, or zero settings when none are stored.
func (s *Store) GetAppSettings(ctx context.Context) (model.AppSettings, error) {
	a, err := findOne[model.AppSettings](ctx, s.settings, bson.M{"_id": settingsID})
	if errors.Is(err, database.ErrNotFound) {
		return model.AppSettings{}, nil
	}
	return a, err
}

// SaveAppSettings replaces the settings singleton.
func (s *Store) SaveAppSettings(ctx context.Context, a model.AppSettings) error {
	return replace(ctx, s.settings, bson.M{"_id": settingsID}, a)
}

func (s *Store) GetRepositoryMetadata(ctx context.Context, repoID string) (model.RepositoryMetadata, error) {
	return findOne[model.RepositoryMetadata](ctx, s.metadata, bson.M{"repo_id": repoID})
}

func (s *Store) SaveRepositoryMetadata(ctx context.Context, m model.RepositoryMetadata) error {
	return replace(ctx, s.metadata, bson.M{"repo_id": m.RepoID}, m)
}

func (s *Store) DeleteRepositoryMetadata(ctx context.Context, repoID string) error {
	_, err := s.metadata.DeleteMany(ctx, bson.M{"repo_id": repoID})
	return err
}

func (s *Store) GetBranch(ctx context.Context, repoID, name string) (model.Branch, error) {
	return findOne[model.Branch](ctx, s.branches, bson.M{"repo_id": repoID, "name": name})
}

func (s *Store) SaveBranch(ctx context.Context, b model.Branch) error {
	return replace(ctx, s.branches, bson.M{"repo_id": b.RepoID, "name": b.Name}, b)
}

func (s *Store) ListBranches(ctx context.Context, repoID string, f database.ListFilter) ([]model.Branch, error) {
	return findAll[model.Branch](ctx, s.branches, bson.M{"repo_id": repoID}, bson.D{{Key: "name", Value: 1}}, f.Limit)
}

func (s *Store) GetCommit(ctx context.Context, repoID, sha string) (model.Commit, error) {
	return findOne[model.Commit](ctx, s.commits, bson.M{"repo_id": repoID, "sha": sha})
}

func (s *Store) SaveCommit(ctx context.Context, c model.Commit) error {
	return replace(ctx, s.commits, bson.M{"repo_id": c.RepoID, "sha": c.SHA}, c)
}

func commitFilter(repoID string, f database.ListFilter) bson.M {
	filter := bson.M{"repo_id": repoID}
	if f.Author != "" {
		filter["author_login"] = f.Author
	}
	if f.Branch != "" {
		filter["branch"] = f.Branch
	}
	if f.Since != nil {
		filter["commit_date"] = bson.M{"$gte": *f.Since}
	}
	return filter
}

func (s *Store) ListCommits(ctx context.Context, repoID string, f database.ListFilter) ([]model.Commit, error) {
	return findAll[model.Commit](ctx, s.commits, commitFilter(repoID, f), bson.D{{Key: "commit_date", Value: -1}}, f.Limit)
}

// trackerFilter covers the fields issues and pull requests share.
func trackerFilter(repoID string, f database.ListFilter) bson.M {
	filter := bson.M{"repo_id": repoID}
	if f.State != "" {
		filter["state"] = f.State
	}
	if f.Author != "" {
		filter["author_login"] = f.Author
	}
	if f.Label != "" {
		filter["labels"] = f.Label
	}
	if f.MilestoneID != nil {
		filter["milestone_id"] = *f.MilestoneID
	}
	if f.Since != nil {
		filter["updated_at"] = bson.M{"$gte": *f.Since}
	}
	return filter
}

func (s *Store) GetIssue(ctx context.Context, repoID string, number int) (model.Issue, error) {
	return findOne[model.Issue](ctx, s.issues, bson.M{"repo_id": repoID, "number": number})
}

func (s *Store) SaveIssue(ctx context.Context, i model.Issue) error {
	return replace(ctx, s.issues, bson.M{"repo_id": i.RepoID, "number": i.Number}, i)
}

func (s *Store) ListIssues(ctx context.Context, repoID string, f database.ListFilter) ([]model.Issue, error) {
	return findAll[model.Issue](ctx, s.issues, trackerFilter(repoID, f), bson.D{{Key: "updated_at", Value: -1}}, f.Limit)
}

func (s *Store) GetPullRequest(ctx context.Context, repoID string, number int) (model.PullRequest, error) {
	return findOne[model.PullRequest](ctx, s.pullRequests, bson.M{"repo_id": repoID, "number": number})
}

func (s *Store) SavePullRequest(ctx context.Context, pr model.PullRequest) error {
	return replace(ctx, s.pullRequests, bson.M{"repo_id": pr.RepoID, "number": pr.Number}, pr)
}

func (s *Store) ListPullRequests(ctx context.Context, repoID string, f database.ListFilter) ([]model.PullRequest, error) {
	return findAll[model.PullRequest](ctx, s.pullRequests, trackerFilter(repoID, f), bson.D{{Key: "updated_at", Value: -1}}, f.Limit)
}

func (s *Store) GetContributor(ctx context.Context, repoID, login string) (model.Contributor, error) {
	return findOne[model.Contributor](ctx, s.contributors, bson.M{"repo_id": repoID, "login": login})
}

// linkedFields are owned by CreditContributor and only seeded on insert.
var linkedFields = []string{"_id", "user_id", "total_xp_earned"}

func (s *Store) SaveContributor(ctx context.Context, c model.Contributor) error {
	raw, err := bson.Marshal(c)
	if err != nil {
		return err
	}
	var set bson.M
	if err := bson.Unmarshal(raw, &set); err != nil {
		return err
	}
	onInsert := bson.M{}
	for _, f := range linkedFields {
		onInsert[f] = set[f]
		delete(set, f)
	}
	_, err = s.contributors.UpdateOne(ctx,
		bson.M{"repo_id": c.RepoID, "login": c.Login},
		bson.M{"$set": set, "$setOnInsert": onInsert},
		options.UpdateOne().SetUpsert(true))
	return err
}

func (s *Store) CreditContributor(ctx context.Context, repoID, login, userID string, amount int) error {
	res, err := s.contributors.UpdateOne(ctx,
		bson.M{"repo_id": repoID, "login": login},
		bson.M{"$set": bson.M{"user_id": userID}, "$inc": bson.M{"total_xp_earned": amount}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return database.ErrNotFound
	}
	return nil
}

func (s *Store) ListContributors(ctx context.Context, repoID string, f database.ListFilter) ([]model.Contributor, error) {
	return findAll[model.Contributor](ctx, s.contributors, bson.M{"repo_id": repoID},
		bson.D{{Key: "commits_count", Value: -1}, {Key: "login", Value: 1}}, f.Limit)
}

func (s *Store) GetRelease(ctx context.Context, repoID string, githubID int64) (model.Release, error) {
	return findOne[model.Release](ctx, s.releases, bson.M{"repo_id": repoID, "github_id": githubID})
}

func (s *Store) SaveRelease(ctx context.Context, r model.Release) error {
	return replace(ctx, s.releases, bson.M{"repo_id": r.RepoID, "github_id": r.GithubID}, r)
}

func (s *Store) ListReleases(ctx context.Context, repoID string, f database.ListFilter) ([]model.Release, error) {
	return findAll[model.Release](ctx, s.releases, bson.M{"repo_id": repoID}, bson.D{{Key: "created_at", Value: -1}}, f.Limit)
}

func (s *Store) GetMilestone(ctx context.Context, repoID string, number int) (model.Milestone, error) {
	return findOne[model.Milestone](ctx, s.milestones, bson.M{"repo_id": repoID, "number": number})
}

func (s *Store) SaveMilestone(ctx context.Context, m model.Milestone) error {
	return replace(ctx, s.milestones, bson.M{"repo_id": m.RepoID, "number": m.Number}, m)
}

func (s *Store) ListMilestones(ctx context.Context, repoID string, f database.ListFilter) ([]model.Milestone, error) {
	filter := bson.M{"repo_id": repoID}
	if f.State != "" {
		filter["state"] = f.State
	}
	return findAll[model.Milestone](ctx, s.milestones, filter, bson.D{{Key: "number", Value: 1}}, f.Limit)
}

func (s *Store) InsertActivity(ctx context.Context, a model.Activity) error {
	_, err := s.activities.InsertOne(ctx, a)
	return err
}

func (s *Store) ListActivities(ctx context.Context, repoID string, f database.ListFilter) ([]model.Activity, error) {
	filter := bson.M{"repo_id": repoID}
	if f.Since != nil {
		filter["occurred_at"] = bson.M{"$gte": *f.Since}
	}
	return findAll[model.Activity](ctx, s.activities, filter, bson.D{{Key: "occurred_at", Value: -1}}, f.Limit)
}

func (s *Store) InsertXPEvent(ctx context.Context, e model.XPEvent) error {
	_, err := s.xpEvents.InsertOne(ctx, e)
	return err
}

func xpFilter(f database.XPEventFilter) bson.M {
	filter := bson.M{}
	if f.UserID != "" {
		filter["user_id"] = f.UserID
	}
	if f.Source != "" {
		filter["source"] = string(f.Source)
	}
	window := bson.M{}
	if f.Since != nil {
		window["$gte"] = *f.Since
	}
	if f.Until != nil {
		window["$lt"] = *f.Until
	}
	if len(window) > 0 {
		filter["created_at"] = window
	}
	return filter
}

func (s *Store) ListXPEvents(ctx context.Context, f database.XPEventFilter) ([]model.XPEvent, error) {
	dir := 1
	if f.Desc {
		dir = -1
	}
	return findAll[model.XPEvent](ctx, s.xpEvents, xpFilter(f),
		bson.D{{Key: "created_at", Value: dir}, {Key: "_id", Value: dir}}, f.Limit)
}

type sumRow struct {
	UserID string `bson:"user_id"`
	Source string `bson:"source"`
	Total  int64  `bson:"total"`
	Count  int64  `bson:"count"`
}

func (s *Store) aggregate(ctx context.Context, pipeline mongo.Pipeline) ([]sumRow, error) {
	cursor, err := s.xpEvents.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	var rows []sumRow
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) SumXP(ctx context.Context, f database.XPEventFilter) (int, error) {
	rows, err := s.aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: xpFilter(f)}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: "$amount"}}},
		}}},
	})
	if err != nil || len(rows) == 0 {
		return 0, err
	}
	return int(rows[0].Total), nil
}

func (s *Store) XPTotals(ctx context.Context, since, until time.Time) ([]database.UserXPTotal, error) {
	rows, err := s.aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: xpFilter(database.XPEventFilter{Since: &since, Until: &until})}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{{Key: "user_id", Value: "$user_id"}, {Key: "source", Value: "$source"}}},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: "$amount"}}},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$project", Value: bson.D{
			{Key: "user_id", Value: "$_id.user_id"},
			{Key: "source", Value: "$_id.source"},
			{Key: "total", Value: 1},
			{Key: "count", Value: 1},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "user_id", Value: 1}, {Key: "source", Value: 1}}}},
	})
	if err != nil {
		return nil, err
	}

	var out []database.UserXPTotal
	index := make(map[string]int)
	for _, r := range rows {
		i, ok := index[r.UserID]
		if !ok {
			i = len(out)
			index[r.UserID] = i
			out = append(out, database.UserXPTotal{UserID: r.UserID, Sources: make(map[string]int)})
		}
		out[i].Total += int(r.Total)
		out[i].EventCount += int(r.Count)
		out[i].Sources[r.Source] += int(r.Total)
	}
	return out, nil
}

func (s *Store) GetXPConfiguration(ctx context.Context) (model.XPConfiguration, error) {
	return findOne[model.XPConfiguration](ctx, s.settings, bson.M{"_id": xpConfigID})
}

func (s *Store) SaveXPConfiguration(ctx context.Context, cfg model.XPConfiguration) error {
	return replace(ctx, s.settings, bson.M{"_id": xpConfigID}, cfg)
}

func (s *Store) InsertLeaderboard(ctx context.Context, lb model.XPLeaderboard) error {
	_, err := s.leaderboards.InsertOne(ctx, lb)
	return err
}
