package rest

import (
	"errors"
	"net/http"

	"github.com/edgeflare/pgcrud/pkg/fault"
	"github.com/edgeflare/pgcrud/pkg/policy"
	"github.com/edgeflare/pgcrud/pkg/request"
)

func (s *Server) getMany(e *endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := request.Decode(r.URL.Query())
		if err != nil {
			s.fail(w, r, e, policy.GetMany, err)
			return
		}
		sc, err := s.resolve(r.Context(), e, p)
		if err != nil {
			s.fail(w, r, e, policy.GetMany, err)
			return
		}
		pl, err := sc.many()
		if err != nil {
			s.fail(w, r, e, policy.GetMany, err)
			return
		}
		res, err := s.exec.Many(r.Context(), pl)
		if err != nil {
			s.fail(w, r, e, policy.GetMany, err)
			return
		}
		s.respond(w, e, policy.GetMany, http.StatusOK, res)
	}
}

func (s *Server) getOne(e *endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, key, err := s.single(r, e)
		if err != nil {
			s.fail(w, r, e, policy.GetOne, err)
			return
		}
		row, err := s.read(r, sc, key)
		if err != nil {
			s.fail(w, r, e, policy.GetOne, err)
			return
		}
		s.respond(w, e, policy.GetOne, http.StatusOK, row)
	}
}

func (s *Server) createOne(e *endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := singleParsed(r)
		if err != nil {
			s.fail(w, r, e, policy.CreateOne, err)
			return
		}
		sc, err := s.resolve(r.Context(), e, p)
		if err != nil {
			s.fail(w, r, e, policy.CreateOne, err)
			return
		}
		body, err := decodeObject(r)
		if err != nil {
			s.fail(w, r, e, policy.CreateOne, err)
			return
		}
		row, err := s.create(r, sc, sc.writable(body))
		if err != nil {
			s.fail(w, r, e, policy.CreateOne, err)
			return
		}
		s.respond(w, e, policy.CreateOne, http.StatusCreated, row)
	}
}

func (s *Server) createMany(e *endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := singleParsed(r)
		if err != nil {
			s.fail(w, r, e, policy.CreateMany, err)
			return
		}
		sc, err := s.resolve(r.Context(), e, p)
		if err != nil {
			s.fail(w, r, e, policy.CreateMany, err)
			return
		}
		bulk, err := decodeBulk(r)
		if err != nil {
			s.fail(w, r, e, policy.CreateMany, err)
			return
		}

		out := make([]map[string]any, 0, len(bulk))
		for _, body := range bulk {
			row, err := s.create(r, sc, sc.writable(body))
			if err != nil {
				s.fail(w, r, e, policy.CreateMany, err)
				return
			}
			out = append(out, row)
		}
		s.respond(w, e, policy.CreateMany, http.StatusCreated, out)
	}
}

func (s *Server) updateOne(e *endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, key, err := s.single(r, e)
		if err != nil {
			s.fail(w, r, e, policy.UpdateOne, err)
			return
		}
		if _, err := s.read(r, sc, key); err != nil {
			s.fail(w, r, e, policy.UpdateOne, err)
			return
		}
		body, err := decodeObject(r)
		if err != nil {
			s.fail(w, r, e, policy.UpdateOne, err)
			return
		}
		if _, err := s.exec.Update(r.Context(), sc.table, key, sc.writable(body)); err != nil {
			s.fail(w, r, e, policy.UpdateOne, err)
			return
		}
		row, err := s.reread(r, sc, key)
		if err != nil {
			s.fail(w, r, e, policy.UpdateOne, err)
			return
		}
		s.respond(w, e, policy.UpdateOne, http.StatusOK, row)
	}
}

// replaceOne updates the row like updateOne, or creates it with the key of
// the path when it does not exist.
func (s *Server) replaceOne(e *endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, key, err := s.single(r, e)
		if err != nil {
			s.fail(w, r, e, policy.ReplaceOne, err)
			return
		}
		body, err := decodeObject(r)
		if err != nil {
			s.fail(w, r, e, policy.ReplaceOne, err)
			return
		}
		values := sc.writable(body)

		_, err = s.read(r, sc, key)
		switch {
		case errors.Is(err, fault.ErrNotFound):
			for k, v := range key {
				values[k] = v
			}
			row, err := s.create(r, sc, values)
			if err != nil {
				s.fail(w, r, e, policy.ReplaceOne, err)
				return
			}
			s.respond(w, e, policy.ReplaceOne, http.StatusOK, row)
			return
		case err != nil:
			s.fail(w, r, e, policy.ReplaceOne, err)
			return
		}

		if _, err := s.exec.Update(r.Context(), sc.table, key, values); err != nil {
			s.fail(w, r, e, policy.ReplaceOne, err)
			return
		}
		row, err := s.reread(r, sc, key)
		if err != nil {
			s.fail(w, r, e, policy.ReplaceOne, err)
			return
		}
		s.respond(w, e, policy.ReplaceOne, http.StatusOK, row)
	}
}

func (s *Server) deleteOne(e *endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, key, err := s.single(r, e)
		if err != nil {
			s.fail(w, r, e, policy.DeleteOne, err)
			return
		}
		row, err := s.read(r, sc, key)
		if err != nil {
			s.fail(w, r, e, policy.DeleteOne, err)
			return
		}
		if _, err := s.exec.Delete(r.Context(), sc.table, key); err != nil {
			s.fail(w, r, e, policy.DeleteOne, err)
			return
		}
		if e.Routes.ReturnDeleted || parseHeaders(r).Prefer.WantsRepresentation() {
			s.respond(w, e, policy.DeleteOne, http.StatusOK, row)
			return
		}
		s.respond(w, e, policy.DeleteOne, http.StatusNoContent, nil)
	}
}

// single resolves a route addressing one row by its {id} path value.
func (s *Server) single(r *http.Request, e *endpoint) (*scope, map[string]any, error) {
	p, err := singleParsed(r)
	if err != nil {
		return nil, nil, err
	}
	sc, err := s.resolve(r.Context(), e, p)
	if err != nil {
		return nil, nil, err
	}
	key, err := pathKey(sc.table, r.PathValue("id"))
	if err != nil {
		return nil, nil, err
	}
	return sc, key, nil
}

// read returns the row with key as seen through the endpoint policy.
func (s *Server) read(r *http.Request, sc *scope, key map[string]any) (map[string]any, error) {
	pl, err := sc.one(key)
	if err != nil {
		return nil, err
	}
	return s.exec.One(r.Context(), pl)
}

// create inserts values and reads the row back.
func (s *Server) create(r *http.Request, sc *scope, values map[string]any) (map[string]any, error) {
	key, err := s.exec.Insert(r.Context(), sc.table, values)
	if err != nil {
		return nil, err
	}
	return s.reread(r, sc, key)
}

// reread reads the row after a write. A row the policy hides after the
// write is answered with its key.
func (s *Server) reread(r *http.Request, sc *scope, key map[string]any) (map[string]any, error) {
	row, err := s.read(r, sc, key)
	if errors.Is(err, fault.ErrNotFound) {
		return key, nil
	}
	return row, err
}
