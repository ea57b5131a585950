package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/okian/skillboard/internal/domain/model"
	"github.com/okian/skillboard/internal/domain/rating"
)

const (
	backendMongo        = "mongo"
	playersCollection   = "players"
	matchesCollection   = "matches"
	mongoConnectTimeout = 10 * time.Second
)

// MongoStore is a Store on MongoDB. CompleteMatch runs in a multi-document
// transaction, which requires a replica set.
type MongoStore struct {
	client  *mongo.Client
	players *mongo.Collection
	matches *mongo.Collection
}

// NewMongoStore connects to uri and ensures the indexes of database.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	cctx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(cctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(cctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:  client,
		players: db.Collection(playersCollection),
		matches: db.Collection(matchesCollection),
	}
	if err := s.ensureIndexes(cctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	if _, err := s.players.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("players indexes: %w", err)
	}
	if _, err := s.matches.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "white", Value: 1}},
			Options: options.Index().
				SetName("one_open_challenge").
				SetUnique(true).
				SetPartialFilterExpression(bson.D{{Key: "status", Value: string(model.StatusWaiting)}}),
		},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("matches indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) CreatePlayer(ctx context.Context, p model.Player) (err error) {
	defer observe(backendMongo, "create_player", time.Now(), &err)

	p.Skill = withDefaults(p.Skill)
	_, err = s.players.InsertOne(ctx, p)
	if mongo.IsDuplicateKeyError(err) {
		if _, getErr := s.GetPlayer(ctx, p.ID); getErr == nil {
			return fmt.Errorf("%w: player %s", ErrConflict, p.ID)
		}
		return fmt.Errorf("%w: %s", ErrUsernameTaken, p.Username)
	}
	return err
}

func (s *MongoStore) GetPlayer(ctx context.Context, id string) (model.Player, error) {
	return s.findPlayer(ctx, bson.D{{Key: "_id", Value: id}}, "player "+id)
}

func (s *MongoStore) GetPlayerByUsername(ctx context.Context, username string) (model.Player, error) {
	return s.findPlayer(ctx, bson.D{{Key: "username", Value: username}}, "username "+username)
}

func (s *MongoStore) findPlayer(ctx context.Context, filter bson.D, what string) (model.Player, error) {
	var p model.Player
	err := s.players.FindOne(ctx, filter).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Player{}, fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	if err != nil {
		return model.Player{}, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func (s *MongoStore) ListPlayers(ctx context.Context) (_ []model.Player, err error) {
	defer observe(backendMongo, "list_players", time.Now(), &err)

	cur, err := s.players.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "username", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var out []model.Player
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].CreatedAt = out[i].CreatedAt.UTC()
	}
	return out, nil
}

func (s *MongoStore) FetchSkill(ctx context.Context, playerID string) (rating.SkillModel, error) {
	p, err := s.GetPlayer(ctx, playerID)
	if err != nil {
		return rating.SkillModel{}, err
	}
	return withDefaults(p.Skill), nil
}

func (s *MongoStore) SaveSkill(ctx context.Context, playerID string, skill rating.SkillModel) (err error) {
	defer observe(backendMongo, "save_skill", time.Now(), &err)

	if err := skill.Validate(); err != nil {
		return err
	}
	res, err := s.players.UpdateByID(ctx, playerID, bson.D{{Key: "$set", Value: bson.D{{Key: "skill", Value: skill}}}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: player %s", ErrNotFound, playerID)
	}
	return nil
}

func (s *MongoStore) CreateMatch(ctx context.Context, m model.Match) (err error) {
	defer observe(backendMongo, "create_match", time.Now(), &err)

	m.Moves = nonNil(m.Moves)
	m.WhiteUsername, m.BlackUsername = "", ""
	_, err = s.matches.InsertOne(ctx, m)
	if mongo.IsDuplicateKeyError(err) {
		if _, getErr := s.GetMatch(ctx, m.ID); getErr == nil {
			return fmt.Errorf("%w: match %s exists", ErrConflict, m.ID)
		}
		return fmt.Errorf("%w: %s", ErrOpenChallenge, m.White)
	}
	return err
}

func (s *MongoStore) GetMatch(ctx context.Context, id string) (model.Match, error) {
	return s.findMatch(ctx, bson.D{{Key: "_id", Value: id}}, "match "+id)
}

func (s *MongoStore) OpenMatchFor(ctx context.Context, whiteID string) (model.Match, error) {
	return s.findMatch(ctx,
		bson.D{{Key: "white", Value: whiteID}, {Key: "status", Value: string(model.StatusWaiting)}},
		"open challenge for "+whiteID)
}

func (s *MongoStore) findMatch(ctx context.Context, filter bson.D, what string) (model.Match, error) {
	var m model.Match
	err := s.matches.FindOne(ctx, filter).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Match{}, fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	if err != nil {
		return model.Match{}, err
	}
	return s.decorate(ctx, m)
}

func (s *MongoStore) ListMatchesByStatus(ctx context.Context, status model.Status) (_ []model.Match, err error) {
	defer observe(backendMongo, "list_matches", time.Now(), &err)

	cur, err := s.matches.Find(ctx, bson.D{{Key: "status", Value: string(status)}},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var out []model.Match
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i], err = s.decorate(ctx, out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *MongoStore) JoinMatch(ctx context.Context, id, blackID string, at time.Time) (_ model.Match, err error) {
	defer observe(backendMongo, "join_match", time.Now(), &err)

	filter := bson.D{
		{Key: "_id", Value: id},
		{Key: "status", Value: string(model.StatusWaiting)},
		{Key: "white", Value: bson.D{{Key: "$ne", Value: blackID}}},
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "black", Value: blackID},
		{Key: "status", Value: string(model.StatusInProgress)},
		{Key: "updated_at", Value: at.UTC()},
	}}}
	return s.transition(ctx, id, filter, update, "cannot be joined")
}

func (s *MongoStore) AppendMove(ctx context.Context, id, fen, move string, at time.Time) (_ model.Match, err error) {
	defer observe(backendMongo, "append_move", time.Now(), &err)

	filter := bson.D{{Key: "_id", Value: id}, {Key: "status", Value: string(model.StatusInProgress)}}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "fen", Value: fen},
		{Key: "updated_at", Value: at.UTC()},
	}}}
	if move != "" {
		update = append(update, bson.E{Key: "$push", Value: bson.D{{Key: "moves", Value: move}}})
	}
	return s.transition(ctx, id, filter, update, "is not in progress")
}

// transition applies update to the match if filter still matches it.
func (s *MongoStore) transition(ctx context.Context, id string, filter, update bson.D, why string) (model.Match, error) {
	var m model.Match
	err := s.matches.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, getErr := s.GetMatch(ctx, id); getErr != nil {
			return model.Match{}, getErr
		}
		return model.Match{}, fmt.Errorf("%w: match %s %s", ErrConflict, id, why)
	}
	if err != nil {
		return model.Match{}, err
	}
	return s.decorate(ctx, m)
}

func (s *MongoStore) MarkMatchCompleted(ctx context.Context, c model.Completion) (_ model.Match, err error) {
	defer observe(backendMongo, "mark_completed", time.Now(), &err)
	return s.markCompleted(ctx, c)
}

func (s *MongoStore) markCompleted(ctx context.Context, c model.Completion) (model.Match, error) {
	set := bson.D{
		{Key: "status", Value: string(model.StatusCompleted)},
		{Key: "result", Value: c.Result.String()},
		{Key: "updated_at", Value: c.At.UTC()},
	}
	if c.WinnerID != "" {
		set = append(set, bson.E{Key: "winner_id", Value: c.WinnerID})
	}
	if c.FEN != "" {
		set = append(set, bson.E{Key: "fen", Value: c.FEN})
	}

	var m model.Match
	err := s.matches.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: c.MatchID}, {Key: "status", Value: string(model.StatusInProgress)}},
		bson.D{{Key: "$set", Value: set}},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		current, getErr := s.GetMatch(ctx, c.MatchID)
		if getErr != nil {
			return model.Match{}, getErr
		}
		if err := checkCompletable(current); err != nil {
			return model.Match{}, err
		}
		return model.Match{}, fmt.Errorf("%w: match %s changed concurrently", ErrConflict, c.MatchID)
	}
	if err != nil {
		return model.Match{}, err
	}
	return s.decorate(ctx, m)
}

func (s *MongoStore) CompleteMatch(ctx context.Context, c model.Completion, rate RateFunc) (_ model.Match, _ []model.Player, err error) {
	defer observe(backendMongo, "complete_match", time.Now(), &err)

	sess, err := s.client.StartSession()
	if err != nil {
		return model.Match{}, nil, err
	}
	defer sess.EndSession(ctx)

	type settled struct {
		match   model.Match
		players []model.Player
	}
	out, err := sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		m, err := s.markCompleted(sc, c)
		if err != nil {
			return nil, err
		}
		white, err := s.GetPlayer(sc, m.White)
		if err != nil {
			return nil, err
		}
		black, err := s.GetPlayer(sc, m.Black)
		if err != nil {
			return nil, err
		}
		players, err := settle(m, white, black, c, rate)
		if err != nil {
			return nil, err
		}
		for _, p := range players {
			if _, err := s.players.UpdateByID(sc, p.ID, bson.D{{Key: "$set", Value: bson.D{
				{Key: "skill", Value: p.Skill},
				{Key: "games_played", Value: p.GamesPlayed},
			}}}); err != nil {
				return nil, err
			}
		}
		return settled{match: m, players: players}, nil
	})
	if err != nil {
		return model.Match{}, nil, err
	}
	res := out.(settled)
	return res.match, res.players, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// decorate fills in usernames and normalizes times read back from BSON.
func (s *MongoStore) decorate(ctx context.Context, m model.Match) (model.Match, error) {
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	m.Moves = nonNil(m.Moves)
	for _, seat := range []struct {
		id   string
		name *string
	}{{m.White, &m.WhiteUsername}, {m.Black, &m.BlackUsername}} {
		if seat.id == "" {
			continue
		}
		p, err := s.GetPlayer(ctx, seat.id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return model.Match{}, err
		}
		*seat.name = p.Username
	}
	return m, nil
}
