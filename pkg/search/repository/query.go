package repository

// Query searches public repositories and returns one page of summaries.
const Query = `
query RepositorySearch($searchString: String!, $first: Int!, $after: String) {
    rateLimit {
        cost
        limit
        nodeCount
        remaining
        resetAt
        used
    }
    search(type: REPOSITORY, query: $searchString, first: $first, after: $after) {
        pageInfo {
            startCursor
            hasNextPage
            endCursor
        }
        repositoryCount
        nodes {
            ...RepositorySummary
        }
    }
}
fragment RepositorySummary on Repository {
    nameWithOwner
    isInOrganization
    owner {
        login
    }
    forkCount
    stargazerCount
    pullRequests {
        totalCount
    }
    issues {
        totalCount
    }
    mentionableUsers {
        totalCount
    }
    watchers {
        totalCount
    }
}
`
